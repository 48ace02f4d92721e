// Package ai routes study questions through persona prompts to the chat model.
package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/zhouzirui/hertscortex/backend/internal/apperr"
	"github.com/zhouzirui/hertscortex/backend/internal/metrics"
	"github.com/zhouzirui/hertscortex/backend/internal/model/chat"
	"github.com/zhouzirui/hertscortex/backend/internal/model/persona"
)

// Mode distinguishes one-shot study actions from conversational turns.
type Mode string

const (
	ModeOneShot Mode = "oneshot"
	ModeChat    Mode = "stream"
)

// State is the lifecycle of one generation request, logged as it advances.
type State string

const (
	StateIdle        State = "idle"
	StatePromptBuilt State = "prompt_built"
	StateInvoking    State = "invoking"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
)

const DefaultMaxDuration = 30 * time.Second

const msgProviderUnavailable = "The AI tutor is unavailable right now. Please try again in a moment."

// Config 控制生成请求的时长与历史长度。
type Config struct {
	MaxDuration time.Duration
	// HistoryLimit keeps only the most recent turns when positive. Zero replays every turn.
	HistoryLimit int
}

// Request is the input of the generation chain.
type Request struct {
	Persona string
	Content string
	History []chat.Turn
	Query   string
	Mode    Mode
}

// Answer is the result of a one-shot request.
type Answer struct {
	Text    string
	Persona persona.Key
}

// ChatRequest is one conversational turn against the study material.
type ChatRequest struct {
	Persona string
	Content string
	History []chat.Turn
	Message string
}

// Delta is one streamed fragment. The last Delta on a channel has Done set and carries the
// full text, or has Err set.
type Delta struct {
	Text    string
	Done    bool
	Full    string
	Err     error
	Persona persona.Key
}

// Option customises New.
type Option func(*options)

type options struct {
	stages []Stage
}

// WithStages replaces the default pipeline.
func WithStages(stages ...Stage) Option {
	return func(o *options) { o.stages = stages }
}

// Service is built once per process and shared by every request.
type Service struct {
	chatModel model.BaseChatModel
	cfg       Config
	chain     compose.Runnable[Request, *schema.Message]
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// New compiles the generation pipeline around chatModel.
func New(ctx context.Context, chatModel model.BaseChatModel, cfg Config, logger *zap.Logger, m *metrics.Metrics, opts ...Option) (*Service, error) {
	if chatModel == nil {
		return nil, errors.New("ai: chat model is required")
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = DefaultMaxDuration
	}
	if cfg.HistoryLimit < 0 {
		cfg.HistoryLimit = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	o := &options{stages: DefaultStages()}
	for _, opt := range opts {
		opt(o)
	}

	s := &Service{
		chatModel: chatModel,
		cfg:       cfg,
		logger:    logger.Named("ai"),
		metrics:   m,
	}

	chain, err := s.compile(ctx, o.stages)
	if err != nil {
		return nil, err
	}
	s.chain = chain
	return s, nil
}

// Ask runs the persona's standalone study task over content.
func (s *Service) Ask(ctx context.Context, content, personaKey string) (*Answer, error) {
	spec, _ := persona.Resolve(personaKey)
	if strings.TrimSpace(content) == "" {
		return nil, apperr.InvalidInput("There is no study material to work with.")
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.MaxDuration)
	defer cancel()

	s.logState(StateInvoking, spec.Key, ModeOneShot)
	started := time.Now()
	msg, err := s.chain.Invoke(ctx, Request{
		Persona: personaKey,
		Content: content,
		Mode:    ModeOneShot,
	})
	s.metrics.ObserveLLM("ask", started)
	if err != nil {
		s.logState(StateFailed, spec.Key, ModeOneShot, zap.Error(err))
		s.metrics.GenerationFinished(string(spec.Key), string(ModeOneShot), "error")
		return nil, apperr.ProviderUnavailable(msgProviderUnavailable, fmt.Errorf("failed to run generation chain: %w", err))
	}

	text := ""
	if msg != nil {
		text = msg.Content
	}
	s.logState(StateCompleted, spec.Key, ModeOneShot, zap.Int("length", len(text)))
	s.metrics.GenerationFinished(string(spec.Key), string(ModeOneShot), "ok")
	return &Answer{Text: text, Persona: spec.Key}, nil
}

// StreamChat answers req.Message in light of the caller's history. Deltas arrive on the
// returned channel, which is closed when the answer completes, fails or ctx is cancelled.
// No delta is delivered after ctx is cancelled. Callers must either drain the channel or
// cancel ctx.
func (s *Service) StreamChat(ctx context.Context, req ChatRequest) (<-chan Delta, error) {
	spec, _ := persona.Resolve(req.Persona)
	if strings.TrimSpace(req.Message) == "" {
		return nil, apperr.InvalidInput("Please type a question first.")
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, apperr.InvalidInput("There is no study material to work with.")
	}

	streamCtx, cancel := context.WithTimeout(ctx, s.cfg.MaxDuration)

	s.logState(StateInvoking, spec.Key, ModeChat)
	stream, err := s.chain.Stream(streamCtx, Request{
		Persona: req.Persona,
		Content: req.Content,
		History: req.History,
		Query:   req.Message,
		Mode:    ModeChat,
	})
	if err != nil {
		cancel()
		s.logState(StateFailed, spec.Key, ModeChat, zap.Error(err))
		s.metrics.GenerationFinished(string(spec.Key), string(ModeChat), "error")
		return nil, apperr.ProviderUnavailable(msgProviderUnavailable, fmt.Errorf("failed to stream generation chain: %w", err))
	}

	// Unbuffered: nothing can be queued for the reader once ctx is cancelled.
	out := make(chan Delta)
	go s.pump(ctx, streamCtx, cancel, stream, spec.Key, out)
	return out, nil
}

// pump forwards chunks until the stream ends. ctx is the caller's context; streamCtx also
// carries the max duration.
func (s *Service) pump(ctx, streamCtx context.Context, cancel context.CancelFunc, stream *schema.StreamReader[*schema.Message], key persona.Key, out chan<- Delta) {
	started := time.Now()
	defer close(out)
	defer cancel()
	defer stream.Close()

	send := func(d Delta) bool {
		if ctx.Err() != nil {
			return false
		}
		select {
		case out <- d:
			return true
		case <-ctx.Done():
			return false
		}
	}

	var full strings.Builder
	for {
		if ctx.Err() != nil {
			s.finishCancelled(key, full.Len(), started)
			return
		}

		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				s.finishCancelled(key, full.Len(), started)
				return
			}
			msg := msgProviderUnavailable
			if streamCtx.Err() != nil {
				msg = "The answer took too long to generate. Please try again."
			}
			s.metrics.ObserveLLM("stream", started)
			s.logState(StateFailed, key, ModeChat, zap.Error(err), zap.Int("partial_length", full.Len()))
			s.metrics.GenerationFinished(string(key), string(ModeChat), "error")
			send(Delta{Err: apperr.ProviderUnavailable(msg, err), Full: full.String(), Persona: key})
			return
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}

		full.WriteString(chunk.Content)
		if !send(Delta{Text: chunk.Content, Persona: key}) {
			s.finishCancelled(key, full.Len(), started)
			return
		}
	}

	s.metrics.ObserveLLM("stream", started)
	s.logState(StateCompleted, key, ModeChat, zap.Int("length", full.Len()))
	s.metrics.GenerationFinished(string(key), string(ModeChat), "ok")
	send(Delta{Done: true, Full: full.String(), Persona: key})
}

func (s *Service) finishCancelled(key persona.Key, length int, started time.Time) {
	s.metrics.ObserveLLM("stream", started)
	s.logger.Info("stream cancelled by caller",
		zap.String("persona", string(key)),
		zap.Int("partial_length", length),
	)
	s.metrics.GenerationFinished(string(key), string(ModeChat), "cancelled")
}

func (s *Service) logState(state State, key persona.Key, mode Mode, fields ...zap.Field) {
	fields = append([]zap.Field{
		zap.String("state", string(state)),
		zap.String("persona", string(key)),
		zap.String("mode", string(mode)),
	}, fields...)
	if state == StateFailed {
		s.logger.Warn("generation state", fields...)
		return
	}
	s.logger.Debug("generation state", fields...)
}
