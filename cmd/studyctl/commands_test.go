package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/zhouzirui/hertscortex/backend/internal/app"
	"github.com/zhouzirui/hertscortex/backend/internal/config"
	"github.com/zhouzirui/hertscortex/backend/internal/llm/llmtest"
	"github.com/zhouzirui/hertscortex/backend/internal/store"
)

const notes = "The French Revolution began in 1789. Causes included fiscal crisis, Enlightenment ideas, and food shortages."

func testCLI(t *testing.T, fake *llmtest.Model) (*cli, *bytes.Buffer) {
	t.Helper()
	out := &bytes.Buffer{}
	c := newCLI(out)
	c.cfg = &config.Config{
		AI:     config.AIConfig{Provider: config.ProviderArk, MaxAttempts: 2},
		Ingest: config.IngestConfig{MinContentChars: 50},
		Store: config.StoreConfig{
			Driver: store.DriverSQLite,
			DSN:    "file:" + filepath.Join(t.TempDir(), "study.db") + "?_pragma=busy_timeout(5000)",
		},
	}
	c.logger = zaptest.NewLogger(t)
	c.build = func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app.App, error) {
		return app.NewWithModel(ctx, cfg, fake, logger, nil)
	}
	return c, out
}

func run(t *testing.T, c *cli, args ...string) error {
	t.Helper()
	root := newRootCmd(c)
	root.SetArgs(args)
	root.SetErr(&bytes.Buffer{})
	return root.ExecuteContext(context.Background())
}

func routed() *llmtest.Model {
	return &llmtest.Model{Respond: func(input []*schema.Message) (string, error) {
		switch system := input[0].Content; {
		case strings.Contains(system, "academic gatekeeper"):
			return "TRUE", nil
		case strings.Contains(system, "academic librarian"):
			return "The French Revolution", nil
		default:
			return "1. When did the revolution begin?", nil
		}
	}}
}

func TestIngestThenShowAndAsk(t *testing.T) {
	c, out := testCLI(t, routed())

	require.NoError(t, run(t, c, "ingest", "--text", notes))
	var res struct {
		StudyID        string `json:"studyId"`
		GeneratedTitle string `json:"generatedTitle"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.Equal(t, "The French Revolution", res.GeneratedTitle)

	out.Reset()
	require.NoError(t, run(t, c, "show", res.StudyID, "--content"))
	assert.Contains(t, out.String(), "--- Pasted Notes ---")
	assert.Contains(t, out.String(), "1789")

	out.Reset()
	require.NoError(t, run(t, c, "ask", "--study", res.StudyID, "--persona", "mcq", "--raw"))
	assert.Equal(t, "1. When did the revolution begin?\n", out.String())
}

func TestAskRendersMarkdown(t *testing.T) {
	fake := &llmtest.Model{Reply: "## Key Points\n\n- **Fiscal crisis** drained the treasury"}
	c, out := testCLI(t, fake)
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte(notes), 0o600))

	require.NoError(t, run(t, c, "ask", "--content-file", path, "--persona", "summary"))
	assert.Contains(t, out.String(), "Key Points")
	assert.Contains(t, out.String(), "Fiscal crisis")
}

func TestIngestReadsFiles(t *testing.T) {
	c, out := testCLI(t, routed())
	dir := t.TempDir()
	notesPath := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(notesPath, []byte(notes), 0o600))
	imagePath := filepath.Join(dir, "diagram.png")
	require.NoError(t, os.WriteFile(imagePath, []byte{0x89, 'P', 'N', 'G'}, 0o600))

	require.NoError(t, run(t, c, "ingest", "--text-file", notesPath, imagePath))
	assert.Contains(t, out.String(), "diagram.png")
	assert.Contains(t, out.String(), "unsupported file type")
}

func TestIngestTooShortShowsUserMessage(t *testing.T) {
	c, _ := testCLI(t, routed())

	err := run(t, c, "ingest", "--text", "too short")
	require.Error(t, err)
	assert.Equal(t, "The provided content is too short to be a lecture note.", err.Error())
}

func TestAskStreamsQuestion(t *testing.T) {
	fake := &llmtest.Model{Chunks: []string{"Fiscal ", "crisis."}}
	c, out := testCLI(t, fake)
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte(notes), 0o600))

	require.NoError(t, run(t, c, "ask", "--content-file", path, "-q", "Main cause?"))
	assert.Equal(t, "Fiscal crisis.\n", out.String())
}

func TestAskNeedsOneSource(t *testing.T) {
	c, _ := testCLI(t, routed())
	assert.Error(t, run(t, c, "ask"))
	assert.Error(t, run(t, c, "ask", "--study", "x", "--content-file", "y"))
}

func TestShowUnknownSession(t *testing.T) {
	c, _ := testCLI(t, routed())
	err := run(t, c, "show", "00000000-0000-4000-8000-000000000000")
	require.Error(t, err)
}

func TestPersonasListsCatalog(t *testing.T) {
	c, out := testCLI(t, routed())
	require.NoError(t, run(t, c, "personas"))

	for _, want := range []string{"summary", "mcq", "deep_roots", "Brain Rot Mode"} {
		assert.Contains(t, out.String(), want)
	}
	assert.Less(t, strings.Index(out.String(), "summary"), strings.Index(out.String(), "deep_roots"))
}

func TestDeclaredType(t *testing.T) {
	assert.Equal(t, "application/pdf", declaredType("a/b/Lecture.PDF"))
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.presentationml.presentation", declaredType("s.pptx"))
	assert.Equal(t, "application/octet-stream", declaredType("noext"))
}
