package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/hertscortex/backend/internal/app"
	"github.com/zhouzirui/hertscortex/backend/internal/config"
	"github.com/zhouzirui/hertscortex/backend/internal/llm/llmtest"
)

const lecture = "Photosynthesis takes place in the chloroplasts of plant cells. Light-dependent reactions " +
	"produce ATP and NADPH, which the Calvin cycle then uses to fix carbon dioxide into sugars."

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	cfg := &config.Config{
		AI:     config.AIConfig{Provider: config.ProviderArk, MaxAttempts: 2},
		Ingest: config.IngestConfig{MinContentChars: 50},
		Store:  config.StoreConfig{Driver: "memory"},
	}

	fake := &llmtest.Model{Respond: func(input []*schema.Message) (string, error) {
		system := input[0].Content
		switch {
		case strings.Contains(system, "academic gatekeeper"):
			return `{"binaryScore": "TRUE"}`, nil
		case strings.Contains(system, "academic librarian"):
			return "Photosynthesis Basics", nil
		default:
			return "## Summary\n\n- Chloroplasts make sugar", nil
		}
	}}

	reg := prometheus.NewRegistry()
	a, err := app.NewWithModel(context.Background(), cfg, fake, zaptest.NewLogger(t), reg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	return NewRouter(Services{Ingest: a.Ingest, AI: a.AI}, Options{
		AllowedOrigins: []string{"*"},
		Streaming:      true,
		Gatherer:       reg,
	}, zaptest.NewLogger(t))
}

func TestRouterStudyLifecycle(t *testing.T) {
	r := newTestRouter(t)

	body, _ := json.Marshal(map[string]string{"pastedText": lecture})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/study", bytes.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		Success        bool   `json:"success"`
		StudyID        string `json:"studyId"`
		GeneratedTitle string `json:"generatedTitle"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.True(t, created.Success)
	assert.Equal(t, "Photosynthesis Basics", created.GeneratedTitle)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/study/"+created.StudyID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Photosynthesis Basics")

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/study/"+created.StudyID+"/ask", strings.NewReader(`{"persona":"summary"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<h2>Summary</h2>")
}

func TestRouterHealthAndMetrics(t *testing.T) {
	r := newTestRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/study/ask", strings.NewReader(`{"docContent":"notes","persona":"summary"}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hertscortex_")
}

func TestRouterUnknownSession(t *testing.T) {
	r := newTestRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/study/00000000-0000-4000-8000-000000000000", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
