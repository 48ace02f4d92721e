// Package app assembles the services shared by the HTTP server and the CLI.
package app

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/zhouzirui/hertscortex/backend/internal/config"
	"github.com/zhouzirui/hertscortex/backend/internal/llm"
	"github.com/zhouzirui/hertscortex/backend/internal/metrics"
	"github.com/zhouzirui/hertscortex/backend/internal/service/ai"
	"github.com/zhouzirui/hertscortex/backend/internal/service/extract"
	"github.com/zhouzirui/hertscortex/backend/internal/service/gate"
	"github.com/zhouzirui/hertscortex/backend/internal/service/ingest"
	"github.com/zhouzirui/hertscortex/backend/internal/service/title"
	"github.com/zhouzirui/hertscortex/backend/internal/store"
)

// App holds the long-lived services of one process.
type App struct {
	Store   store.Store
	Ingest  *ingest.Service
	AI      *ai.Service
	Metrics *metrics.Metrics
}

// New connects the store, builds the chat model from cfg and wires every service around it.
// reg may be nil.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, reg prometheus.Registerer) (*App, error) {
	chatModel, err := cfg.AI.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewWithModel(ctx, cfg, chatModel, logger, reg)
}

// NewWithModel is New with an already constructed chat model.
func NewWithModel(ctx context.Context, cfg *config.Config, chatModel model.BaseChatModel, logger *zap.Logger, reg prometheus.Registerer) (*App, error) {
	m := metrics.New(reg)
	shared := llm.WithRetry(chatModel, cfg.AI.MaxAttempts, llm.WithLogger(logger.Named("llm")))

	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, err
	}

	contentGate, err := gate.New(ctx, shared, gate.Config{
		MinChars:     cfg.Ingest.MinContentChars,
		PreviewChars: cfg.Ingest.GatePreviewChars,
		Timeout:      cfg.Ingest.GateTimeout,
	}, logger, m)
	if err != nil {
		st.Close()
		return nil, err
	}

	titles, err := title.New(ctx, shared, title.Config{
		PreviewChars: cfg.Ingest.TitlePreviewChars,
		Timeout:      cfg.Ingest.TitleTimeout,
	}, logger, m)
	if err != nil {
		st.Close()
		return nil, err
	}

	generation, err := ai.New(ctx, shared, ai.Config{
		MaxDuration:  cfg.AI.StreamMaxDuration,
		HistoryLimit: cfg.AI.HistoryLimit,
	}, logger, m)
	if err != nil {
		st.Close()
		return nil, err
	}

	aggregator := ingest.NewAggregator(extract.New(), cfg.Ingest.ExtractConcurrency, logger, m)
	ingestion := ingest.NewService(aggregator, contentGate, titles, st, ingest.Config{
		DefaultOwner: cfg.Ingest.DefaultOwner,
		MaxFileBytes: cfg.Ingest.MaxFileBytes,
	}, logger, m)

	logger.Info("services initialized",
		zap.String("provider", cfg.AI.Provider),
		zap.String("store", cfg.Store.Driver),
		zap.Int("max_attempts", cfg.AI.MaxAttempts),
	)

	return &App{Store: st, Ingest: ingestion, AI: generation, Metrics: m}, nil
}

// Close releases the store.
func (a *App) Close() error {
	return a.Store.Close()
}
