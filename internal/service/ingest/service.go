// Package ingest turns raw study material into a persisted study session.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/zhouzirui/hertscortex/backend/internal/apperr"
	"github.com/zhouzirui/hertscortex/backend/internal/metrics"
	"github.com/zhouzirui/hertscortex/backend/internal/model/study"
	"github.com/zhouzirui/hertscortex/backend/internal/store"
)

const (
	DefaultOwner        = "guest_user"
	DefaultMaxFileBytes = 20 << 20
)

// Gatekeeper validates aggregated material. body excludes source labels; content is the
// flattened text.
type Gatekeeper interface {
	Validate(ctx context.Context, body, content string) error
}

// Titler names a session when the caller did not.
type Titler interface {
	Synthesize(ctx context.Context, content string) (string, error)
}

// Config 控制摄取流程的默认值与限制。
type Config struct {
	DefaultOwner string
	MaxFileBytes int
}

// Request is one initializeStudySession call after transport decoding.
type Request struct {
	Title      string
	PastedText string
	Files      []study.FileInput
	OwnerRef   string
}

// Result reports the created session. Warnings lists files that contributed no text.
type Result struct {
	StudyID        string              `json:"studyId"`
	GeneratedTitle string              `json:"generatedTitle"`
	Warnings       []study.SkippedFile `json:"warnings,omitempty"`
}

// Service runs Aggregate, Gate, Title and Store in that order.
type Service struct {
	aggregator *Aggregator
	gate       Gatekeeper
	titles     Titler
	store      store.Store
	cfg        Config
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// NewService wires the ingestion pipeline.
func NewService(aggregator *Aggregator, gate Gatekeeper, titles Titler, st store.Store, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Service {
	if cfg.DefaultOwner == "" {
		cfg.DefaultOwner = DefaultOwner
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = DefaultMaxFileBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		aggregator: aggregator,
		gate:       gate,
		titles:     titles,
		store:      st,
		cfg:        cfg,
		logger:     logger.Named("ingest"),
		metrics:    m,
	}
}

// MaxFileBytes is the per-file size limit enforced by InitializeStudySession.
func (s *Service) MaxFileBytes() int {
	return s.cfg.MaxFileBytes
}

// InitializeStudySession validates the material, names it and stores it. The length gate runs
// before any model call; content rejections and provider failures are distinct error kinds.
func (s *Service) InitializeStudySession(ctx context.Context, req Request) (*Result, error) {
	for _, file := range req.Files {
		if len(file.Data) > s.cfg.MaxFileBytes {
			s.metrics.IngestionFinished("invalid")
			return nil, apperr.InvalidInput(fmt.Sprintf("%s is larger than the %d MB upload limit.", file.FileName, s.cfg.MaxFileBytes>>20))
		}
	}

	aggregated, skipped := s.aggregator.Aggregate(ctx, req.PastedText, req.Files)
	content := aggregated.Flatten()

	if err := s.gate.Validate(ctx, aggregated.Body(), content); err != nil {
		s.metrics.IngestionFinished(outcomeOf(err))
		s.logger.Info("study material not accepted",
			zap.String("kind", string(apperr.KindOf(err))),
			zap.Int("files", len(req.Files)),
			zap.Int("skipped", len(skipped)),
		)
		return nil, err
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		generated, err := s.titles.Synthesize(ctx, content)
		if err != nil {
			s.metrics.IngestionFinished(outcomeOf(err))
			return nil, err
		}
		title = generated
	}

	owner := strings.TrimSpace(req.OwnerRef)
	if owner == "" {
		owner = s.cfg.DefaultOwner
	}

	session, err := s.store.Create(ctx, title, content, owner)
	if err != nil {
		s.metrics.IngestionFinished("store_error")
		s.logger.Error("failed to persist study session", zap.Error(err))
		return nil, apperr.New(apperr.KindInternal, "We couldn't save your study session. Please try again.", err)
	}

	s.metrics.IngestionFinished("created")
	s.logger.Info("study session created",
		zap.String("study_id", session.ID),
		zap.String("title", session.Title),
		zap.Int("content_length", len(content)),
		zap.Int("skipped", len(skipped)),
	)
	return &Result{StudyID: session.ID, GeneratedTitle: title, Warnings: skipped}, nil
}

// GetSession loads a stored session.
func (s *Service) GetSession(ctx context.Context, id string) (*study.Session, error) {
	session, err := s.store.Get(ctx, strings.TrimSpace(id))
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("Study session not found", err)
	}
	if err != nil {
		return nil, apperr.New(apperr.KindInternal, "We couldn't load this study session. Please try again.", err)
	}
	return session, nil
}

func outcomeOf(err error) string {
	switch apperr.KindOf(err) {
	case apperr.KindInvalidInput:
		return "too_short"
	case apperr.KindContentRejected:
		return "rejected"
	case apperr.KindProviderUnavailable:
		return "provider_error"
	default:
		return "error"
	}
}
