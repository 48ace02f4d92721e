package gate

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zhouzirui/hertscortex/backend/internal/apperr"
	"github.com/zhouzirui/hertscortex/backend/internal/llm/llmtest"
	"github.com/zhouzirui/hertscortex/backend/internal/metrics"
)

var lectureNotes = strings.Repeat("Photosynthesis converts light energy into chemical energy stored in glucose. ", 16)

func newGate(t *testing.T, m model.BaseChatModel, cfg Config) *Gate {
	t.Helper()
	g, err := New(context.Background(), m, cfg, zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	return g
}

func TestValidateTooShortNeverCallsModel(t *testing.T) {
	fake := &llmtest.Model{Reply: `{"binaryScore":"TRUE"}`}
	g := newGate(t, fake, Config{})

	err := g.Validate(context.Background(), "too short", "--- Pasted Notes ---\ntoo short\n\n")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindInvalidInput))
	assert.Equal(t, msgTooShort, apperr.UserMessage(err))
	assert.Zero(t, fake.CallCount())
}

func TestCheckLengthCountsRunesAfterTrim(t *testing.T) {
	g := newGate(t, &llmtest.Model{}, Config{MinChars: 50})

	assert.NoError(t, g.CheckLength(strings.Repeat("é", 50)))
	assert.Error(t, g.CheckLength(strings.Repeat("é", 49)))
	assert.Error(t, g.CheckLength("   "+strings.Repeat("a", 49)+"\n\n\t"))
}

func TestValidateVerdicts(t *testing.T) {
	cases := []struct {
		name   string
		reply  string
		accept bool
	}{
		{"json true", `{"binaryScore":"TRUE"}`, true},
		{"json lowercase", `{"binaryScore": "true"}`, true},
		{"fenced json", "```json\n{\"binaryScore\": \"TRUE\"}\n```", true},
		{"bare token", "TRUE", true},
		{"json false", `{"binaryScore":"FALSE"}`, false},
		{"maybe", `{"binaryScore":"MAYBE"}`, false},
		{"empty", "", false},
		{"sentence", "I think this is TRUE", false},
		{"broken json", `{"binaryScore": TRUE`, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := newGate(t, &llmtest.Model{Reply: tc.reply}, Config{})
			err := g.Validate(context.Background(), lectureNotes, lectureNotes)
			if tc.accept {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.KindContentRejected), err.Error())
		})
	}
}

func TestClassifyProviderFailureIsNotARejection(t *testing.T) {
	g := newGate(t, &llmtest.Model{Err: errors.New("503 upstream")}, Config{})

	err := g.Validate(context.Background(), lectureNotes, lectureNotes)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindProviderUnavailable))
}

// hangingModel blocks until the context ends.
type hangingModel struct{ llmtest.Model }

func (h *hangingModel) Generate(ctx context.Context, _ []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestClassifyTimesOut(t *testing.T) {
	g := newGate(t, &hangingModel{}, Config{Timeout: 20 * time.Millisecond})

	started := time.Now()
	_, err := g.Classify(context.Background(), lectureNotes)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindProviderUnavailable))
	assert.Less(t, time.Since(started), 2*time.Second)
}

func TestClassifySendsOnlyPreview(t *testing.T) {
	fake := &llmtest.Model{Reply: `{"binaryScore":"TRUE"}`}
	g := newGate(t, fake, Config{PreviewChars: 2000})

	content := strings.Repeat("a", 2000) + "TAIL_MARKER"
	_, err := g.Classify(context.Background(), content)
	require.NoError(t, err)

	input := fake.LastInput()
	require.Len(t, input, 2)
	assert.Equal(t, schema.System, input[0].Role)
	assert.Contains(t, input[0].Content, `{"binaryScore": "TRUE"}`)
	assert.Contains(t, input[1].Content, strings.Repeat("a", 2000))
	assert.NotContains(t, input[1].Content, "TAIL_MARKER")
}

func TestGateRecordsDecisions(t *testing.T) {
	reg := prometheus.NewRegistry()
	g, err := New(context.Background(), &llmtest.Model{Reply: "FALSE"}, Config{}, zaptest.NewLogger(t), metrics.New(reg))
	require.NoError(t, err)

	_ = g.Validate(context.Background(), "short", "short")
	_ = g.Validate(context.Background(), lectureNotes, lectureNotes)

	expected := `
# HELP hertscortex_gate_decisions_total Academic content gate decisions.
# TYPE hertscortex_gate_decisions_total counter
hertscortex_gate_decisions_total{decision="rejected"} 1
hertscortex_gate_decisions_total{decision="too_short"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "hertscortex_gate_decisions_total"))
}
