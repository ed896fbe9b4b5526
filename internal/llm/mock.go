package llm

import (
	"context"
	"sync"

	"github.com/adred-codev/ai-gateway/internal/apperrors"
)

// MockAdapter is a scripted Adapter for tests and local development. Each
// Complete call consumes the next queued reply; an empty queue yields a
// canned response.
type MockAdapter struct {
	mu       sync.Mutex
	queue    []mockReply
	Requests []Request
}

type mockReply struct {
	resp *Response
	err  error
}

// NewMockAdapter creates an empty mock.
func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

func (m *MockAdapter) Name() string { return "mock" }

// QueueResponse appends a successful reply.
func (m *MockAdapter) QueueResponse(resp *Response) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, mockReply{resp: resp})
}

// QueueError appends a failing reply.
func (m *MockAdapter) QueueError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, mockReply{err: err})
}

// Complete records the request and returns the next scripted reply.
func (m *MockAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeLLM, "mock request cancelled")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, req)
	if len(m.queue) == 0 {
		return &Response{Content: "This is a mock response."}, nil
	}
	next := m.queue[0]
	m.queue = m.queue[1:]
	if next.err != nil {
		return nil, next.err
	}
	return next.resp, nil
}

// CallCount returns how many Complete calls were made.
func (m *MockAdapter) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}
