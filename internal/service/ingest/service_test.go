package ingest_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zhouzirui/hertscortex/backend/internal/apperr"
	"github.com/zhouzirui/hertscortex/backend/internal/llm/llmtest"
	"github.com/zhouzirui/hertscortex/backend/internal/model/study"
	"github.com/zhouzirui/hertscortex/backend/internal/service/extract"
	"github.com/zhouzirui/hertscortex/backend/internal/service/gate"
	"github.com/zhouzirui/hertscortex/backend/internal/service/ingest"
	"github.com/zhouzirui/hertscortex/backend/internal/service/title"
	"github.com/zhouzirui/hertscortex/backend/internal/store"
)

// routedModel answers the gate and the title chains from one fake.
func routedModel(verdict, generatedTitle string) *llmtest.Model {
	return &llmtest.Model{Respond: func(input []*schema.Message) (string, error) {
		if strings.Contains(input[0].Content, "academic gatekeeper") {
			return verdict, nil
		}
		return generatedTitle, nil
	}}
}

type fixture struct {
	svc   *ingest.Service
	model *llmtest.Model
}

func newFixture(t *testing.T, model *llmtest.Model, st store.Store) fixture {
	t.Helper()
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	g, err := gate.New(ctx, model, gate.Config{}, logger, nil)
	require.NoError(t, err)
	titles, err := title.New(ctx, model, title.Config{}, logger, nil)
	require.NoError(t, err)

	agg := ingest.NewAggregator(extract.New(), 0, logger, nil)
	return fixture{
		svc:   ingest.NewService(agg, g, titles, st, ingest.Config{}, logger, nil),
		model: model,
	}
}

func TestInitializeStudySessionEndToEnd(t *testing.T) {
	f := newFixture(t, routedModel(`{"binaryScore":"TRUE"}`, `"Cell Biology Fundamentals"`), store.NewMemory())
	pasted := strings.Repeat("Mitochondria are membrane-bound organelles that generate ATP. ", 20)[:1200]

	res, err := f.svc.InitializeStudySession(context.Background(), ingest.Request{PastedText: pasted})
	require.NoError(t, err)
	assert.Equal(t, "Cell Biology Fundamentals", res.GeneratedTitle)
	assert.Empty(t, res.Warnings)

	session, err := f.svc.GetSession(context.Background(), res.StudyID)
	require.NoError(t, err)
	assert.Equal(t, "--- Pasted Notes ---\n"+pasted+"\n\n", session.Content)
	assert.Equal(t, "Cell Biology Fundamentals", session.Title)
	assert.Equal(t, ingest.DefaultOwner, session.OwnerRef)
	assert.Equal(t, 2, f.model.CallCount())
}

func TestInitializeStudySessionKeepsCallerTitle(t *testing.T) {
	f := newFixture(t, routedModel("TRUE", "Should Not Be Used"), store.NewMemory())

	res, err := f.svc.InitializeStudySession(context.Background(), ingest.Request{
		Title:      "  My Biology Notes ",
		PastedText: strings.Repeat("Cells divide through mitosis and meiosis. ", 3),
		OwnerRef:   "student-42",
	})
	require.NoError(t, err)
	assert.Equal(t, "My Biology Notes", res.GeneratedTitle)
	assert.Equal(t, 1, f.model.CallCount(), "only the gate runs")

	session, err := f.svc.GetSession(context.Background(), res.StudyID)
	require.NoError(t, err)
	assert.Equal(t, "student-42", session.OwnerRef)
}

func TestInitializeStudySessionTooShort(t *testing.T) {
	f := newFixture(t, routedModel("TRUE", "x"), store.NewMemory())

	_, err := f.svc.InitializeStudySession(context.Background(), ingest.Request{PastedText: "hello world"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindInvalidInput))
	assert.Zero(t, f.model.CallCount())
}

func TestInitializeStudySessionRejected(t *testing.T) {
	f := newFixture(t, routedModel(`{"binaryScore":"FALSE"}`, "x"), store.NewMemory())

	_, err := f.svc.InitializeStudySession(context.Background(), ingest.Request{
		PastedText: strings.Repeat("buy cheap watches now limited offer!!! ", 5),
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindContentRejected))
	assert.Equal(t, 1, f.model.CallCount(), "title never runs after a rejection")
}

func TestInitializeStudySessionWarnsAboutSkippedFiles(t *testing.T) {
	f := newFixture(t, routedModel("TRUE", "Mixed Upload"), store.NewMemory())

	res, err := f.svc.InitializeStudySession(context.Background(), ingest.Request{
		PastedText: strings.Repeat("Entropy measures the number of microstates. ", 3),
		Files: []study.FileInput{
			{FileName: "diagram.png", DeclaredType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}},
			{FileName: "broken.pdf", DeclaredType: "application/pdf", Data: []byte("not a pdf")},
		},
	})
	require.NoError(t, err)
	require.Len(t, res.Warnings, 2)
	assert.Equal(t, "diagram.png", res.Warnings[0].FileName)
	assert.Equal(t, "broken.pdf", res.Warnings[1].FileName)

	session, err := f.svc.GetSession(context.Background(), res.StudyID)
	require.NoError(t, err)
	assert.Contains(t, session.Content, "--- File: diagram.png ---\n\n\n")
}

func TestInitializeStudySessionRejectsOversizedFile(t *testing.T) {
	f := newFixture(t, routedModel("TRUE", "x"), store.NewMemory())

	_, err := f.svc.InitializeStudySession(context.Background(), ingest.Request{
		Files: []study.FileInput{{FileName: "huge.pdf", DeclaredType: "application/pdf", Data: make([]byte, ingest.DefaultMaxFileBytes+1)}},
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindInvalidInput))
	assert.Contains(t, apperr.UserMessage(err), "huge.pdf")
}

func TestInitializeStudySessionProviderFailure(t *testing.T) {
	f := newFixture(t, &llmtest.Model{Err: errors.New("connection refused")}, store.NewMemory())

	_, err := f.svc.InitializeStudySession(context.Background(), ingest.Request{
		PastedText: strings.Repeat("Newton's second law relates force and acceleration. ", 2),
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindProviderUnavailable))
}

type failingStore struct{ store.Store }

func (failingStore) Create(context.Context, string, string, string) (*study.Session, error) {
	return nil, errors.New("disk full")
}

func TestInitializeStudySessionStoreFailure(t *testing.T) {
	f := newFixture(t, routedModel("TRUE", "Title"), failingStore{store.NewMemory()})

	_, err := f.svc.InitializeStudySession(context.Background(), ingest.Request{
		PastedText: strings.Repeat("Enzymes lower the activation energy of reactions. ", 2),
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
}

func TestGetSessionNotFound(t *testing.T) {
	f := newFixture(t, routedModel("TRUE", "x"), store.NewMemory())

	_, err := f.svc.GetSession(context.Background(), "4b3a1f9e-0000-4000-8000-000000000000")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}
