package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/hertscortex/backend/internal/metrics"
	"github.com/zhouzirui/hertscortex/backend/internal/model/study"
	"github.com/zhouzirui/hertscortex/backend/internal/service/extract"
)

// DefaultExtractConcurrency bounds how many files of one request are parsed at once.
const DefaultExtractConcurrency = 4

const (
	reasonUnsupported = "unsupported file type"
	reasonMalformed   = "the file could not be read"
	reasonEmpty       = "no extractable text"
	reasonCancelled   = "extraction was cancelled"
)

// TextExtractor turns document bytes into text.
type TextExtractor interface {
	Extract(ctx context.Context, data []byte, declaredType string) (string, error)
}

// Aggregator merges pasted text and uploaded files into one ordered body of content.
type Aggregator struct {
	extractor   TextExtractor
	concurrency int
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// NewAggregator creates an Aggregator. concurrency <= 0 selects DefaultExtractConcurrency.
func NewAggregator(extractor TextExtractor, concurrency int, logger *zap.Logger, m *metrics.Metrics) *Aggregator {
	if concurrency <= 0 {
		concurrency = DefaultExtractConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		extractor:   extractor,
		concurrency: concurrency,
		logger:      logger.Named("aggregate"),
		metrics:     m,
	}
}

type extraction struct {
	text   string
	reason string
	err    error
}

// Aggregate extracts every file concurrently and returns the fragments in submission order:
// pasted text first, then one labelled fragment per file. A file that fails or yields no
// text keeps its label with empty text and is reported in the skipped list.
func (a *Aggregator) Aggregate(ctx context.Context, pastedText string, files []study.FileInput) (study.Aggregated, []study.SkippedFile) {
	results := make([]extraction, len(files))

	var g errgroup.Group
	g.SetLimit(a.concurrency)
	for i, file := range files {
		g.Go(func() error {
			results[i] = a.extractOne(ctx, file)
			return nil
		})
	}
	// Workers never return errors; Wait is the barrier before assembly.
	_ = g.Wait()

	fragments := make([]study.Fragment, 0, len(files)+1)
	pastedText = stripNUL(pastedText)
	if strings.TrimSpace(pastedText) != "" {
		fragments = append(fragments, study.Fragment{SourceLabel: study.PastedLabel, Text: pastedText})
	}

	var (
		skipped  []study.SkippedFile
		failures *multierror.Error
	)
	for i, file := range files {
		res := results[i]
		fragments = append(fragments, study.Fragment{SourceLabel: study.FileLabel(file.FileName), Text: res.text})
		if res.reason != "" {
			skipped = append(skipped, study.SkippedFile{FileName: file.FileName, Reason: res.reason})
		}
		if res.err != nil {
			failures = multierror.Append(failures, fmt.Errorf("%s: %w", file.FileName, res.err))
		}
	}

	if err := failures.ErrorOrNil(); err != nil {
		a.logger.Warn("some files could not be extracted",
			zap.Int("failed", failures.Len()),
			zap.Int("files", len(files)),
			zap.Error(err),
		)
	}
	return study.Aggregated{Fragments: fragments}, skipped
}

func (a *Aggregator) extractOne(ctx context.Context, file study.FileInput) extraction {
	category := extract.Classify(file.DeclaredType)
	if category == extract.CategoryUnsupported {
		a.metrics.ExtractionFinished(string(category), "skipped")
		a.logger.Info("skipping unsupported file",
			zap.String("file", file.FileName),
			zap.String("declared_type", file.DeclaredType),
		)
		return extraction{reason: reasonUnsupported}
	}

	text, err := a.extractor.Extract(ctx, file.Data, file.DeclaredType)
	text = stripNUL(text)
	switch {
	case err == nil && strings.TrimSpace(text) == "":
		a.metrics.ExtractionFinished(string(category), "empty")
		return extraction{reason: reasonEmpty}
	case err == nil:
		a.metrics.ExtractionFinished(string(category), "ok")
		return extraction{text: text}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		a.metrics.ExtractionFinished(string(category), "cancelled")
		return extraction{reason: reasonCancelled, err: err}
	default:
		a.metrics.ExtractionFinished(string(category), "failed")
		return extraction{reason: reasonMalformed, err: err}
	}
}

// stripNUL removes NUL bytes, which PDF text runs may carry and Postgres TEXT rejects.
func stripNUL(text string) string {
	return strings.ReplaceAll(text, "\x00", "")
}
