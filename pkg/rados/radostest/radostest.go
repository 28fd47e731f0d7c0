// Package radostest provides an in-memory rados.Session for tests.
package radostest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/monagent/pkg/rados"
)

// Handler answers one command
type Handler func(args map[string]any, inbuf []byte) (status int, payload []byte, errText string)

// Call records one Execute invocation
type Call struct {
	Prefix string
	Args   map[string]any
	Inbuf  []byte
}

// Session is a scripted rados.Session
type Session struct {
	mu       sync.Mutex
	handlers map[string]Handler
	calls    []Call
	closed   bool
}

// NewSession creates an empty scripted session. Unknown prefixes fail with
// status -22.
func NewSession() *Session {
	return &Session{handlers: make(map[string]Handler)}
}

// Handle registers a handler for prefix
func (s *Session) Handle(prefix string, h Handler) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[prefix] = h
	return s
}

// JSON registers a handler that always returns v encoded as JSON
func (s *Session) JSON(prefix string, v any) *Session {
	payload, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return s.Handle(prefix, func(map[string]any, []byte) (int, []byte, string) {
		return 0, payload, ""
	})
}

// Raw registers a handler that always returns payload
func (s *Session) Raw(prefix string, payload []byte) *Session {
	return s.Handle(prefix, func(map[string]any, []byte) (int, []byte, string) {
		return 0, payload, ""
	})
}

// Fail registers a handler that always fails with status and errText
func (s *Session) Fail(prefix string, status int, errText string) *Session {
	return s.Handle(prefix, func(map[string]any, []byte) (int, []byte, string) {
		return status, nil, errText
	})
}

// Execute implements rados.Session
func (s *Session) Execute(ctx context.Context, prefix string, args map[string]any, inbuf []byte, timeout time.Duration) (int, []byte, string, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, "", err
	}

	s.mu.Lock()
	s.calls = append(s.calls, Call{Prefix: prefix, Args: args, Inbuf: inbuf})
	h, ok := s.handlers[prefix]
	s.mu.Unlock()

	if !ok {
		return -22, nil, fmt.Sprintf("unrecognized command %q", prefix), nil
	}
	status, payload, errText := h(args, inbuf)
	return status, payload, errText, nil
}

// Close implements rados.Session
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Calls returns a copy of the recorded calls
func (s *Session) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Prefixes returns the recorded command prefixes in order
func (s *Session) Prefixes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.calls))
	for _, c := range s.calls {
		out = append(out, c.Prefix)
	}
	return out
}

// Connector hands out a fixed session, or fails with Err
type Connector struct {
	Session *Session
	Err     error

	mu       sync.Mutex
	clusters []string
}

// Connect implements rados.Connector
func (c *Connector) Connect(ctx context.Context, cluster string, timeout time.Duration) (rados.Session, error) {
	c.mu.Lock()
	c.clusters = append(c.clusters, cluster)
	c.mu.Unlock()

	if c.Err != nil {
		return nil, c.Err
	}
	return c.Session, nil
}

// Clusters returns the cluster names passed to Connect
func (c *Connector) Clusters() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.clusters...)
}
