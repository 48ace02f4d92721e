// Package llm holds provider-agnostic helpers around eino chat models.
package llm

import (
	"context"
	"errors"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
)

// DefaultAttempts is the number of tries made by WithRetry when attempts < 1.
const DefaultAttempts = 2

type retryModel struct {
	inner    model.BaseChatModel
	attempts int
	backoff  time.Duration
	logger   *zap.Logger
}

// RetryOption customises WithRetry.
type RetryOption func(*retryModel)

// WithBackoff sets the pause between attempts.
func WithBackoff(d time.Duration) RetryOption {
	return func(r *retryModel) { r.backoff = d }
}

// WithLogger reports failed attempts.
func WithLogger(logger *zap.Logger) RetryOption {
	return func(r *retryModel) { r.logger = logger }
}

// WithRetry wraps inner so transient transport failures are retried. Generate is retried as a
// whole; Stream only while the stream is being opened, never after chunks have been handed out.
// Cancelled or expired contexts are never retried.
func WithRetry(inner model.BaseChatModel, attempts int, opts ...RetryOption) model.BaseChatModel {
	if attempts < 1 {
		attempts = DefaultAttempts
	}
	r := &retryModel{
		inner:    inner,
		attempts: attempts,
		backoff:  250 * time.Millisecond,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *retryModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	var out *schema.Message
	err := r.do(ctx, "generate", func() error {
		var err error
		out, err = r.inner.Generate(ctx, input, opts...)
		return err
	})
	return out, err
}

func (r *retryModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	var out *schema.StreamReader[*schema.Message]
	err := r.do(ctx, "stream", func() error {
		var err error
		out, err = r.inner.Stream(ctx, input, opts...)
		return err
	})
	return out, err
}

func (r *retryModel) do(ctx context.Context, op string, call func() error) error {
	var err error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		err = call()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if attempt == r.attempts {
			break
		}

		r.logger.Warn("chat model call failed, retrying",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", r.attempts),
			zap.Error(err),
		)

		timer := time.NewTimer(r.backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}
