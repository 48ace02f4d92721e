// Package llmtest provides a scripted eino chat model for tests.
package llmtest

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Model is a scripted model.BaseChatModel. Zero value replies with an empty message.
type Model struct {
	// Reply is returned by Generate. Stream sends it as a single chunk when Chunks is empty.
	Reply string
	// Chunks are streamed in order by Stream.
	Chunks []string
	// ChunkDelay is waited before each streamed chunk.
	ChunkDelay time.Duration
	// Err fails every call.
	Err error
	// FailFirst fails that many calls before behaving normally.
	FailFirst int
	// Respond, when set, computes the reply from the prompt.
	Respond func(input []*schema.Message) (string, error)

	mu     sync.Mutex
	calls  [][]*schema.Message
	active sync.WaitGroup
}

var _ model.BaseChatModel = (*Model)(nil)

// ErrScripted is returned for the FailFirst calls.
var ErrScripted = errors.New("llmtest: scripted failure")

func (m *Model) record(input []*schema.Message) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := make([]*schema.Message, len(input))
	copy(copied, input)
	m.calls = append(m.calls, copied)
	n := len(m.calls)

	if m.Err != nil {
		return n, m.Err
	}
	if n <= m.FailFirst {
		return n, ErrScripted
	}
	return n, nil
}

func (m *Model) reply(input []*schema.Message) (string, error) {
	if m.Respond != nil {
		return m.Respond(input)
	}
	return m.Reply, nil
}

func (m *Model) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	if _, err := m.record(input); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text, err := m.reply(input)
	if err != nil {
		return nil, err
	}
	return schema.AssistantMessage(text, nil), nil
}

func (m *Model) Stream(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	if _, err := m.record(input); err != nil {
		return nil, err
	}

	chunks := m.Chunks
	if len(chunks) == 0 {
		text, err := m.reply(input)
		if err != nil {
			return nil, err
		}
		chunks = []string{text}
	}

	sr, sw := schema.Pipe[*schema.Message](1)
	m.active.Add(1)
	go func() {
		defer m.active.Done()
		defer sw.Close()
		for _, chunk := range chunks {
			if m.ChunkDelay > 0 {
				timer := time.NewTimer(m.ChunkDelay)
				select {
				case <-ctx.Done():
					timer.Stop()
					sw.Send(nil, ctx.Err())
					return
				case <-timer.C:
				}
			}
			if closed := sw.Send(schema.AssistantMessage(chunk, nil), nil); closed {
				return
			}
		}
	}()
	return sr, nil
}

// CallCount reports how many Generate/Stream calls were made.
func (m *Model) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// LastInput returns the messages of the most recent call.
func (m *Model) LastInput() []*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	return m.calls[len(m.calls)-1]
}

// Wait blocks until every producer goroutine started by Stream has exited.
func (m *Model) Wait() {
	m.active.Wait()
}

// Drain reads sr to the end and concatenates the chunk contents.
func Drain(sr *schema.StreamReader[*schema.Message]) (string, error) {
	var b strings.Builder
	for {
		msg, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return b.String(), err
		}
		b.WriteString(msg.Content)
	}
}
