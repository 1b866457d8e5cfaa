package courier

import (
	"context"
	"errors"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/opd-ai/courier/protocol"
	"github.com/opd-ai/courier/wire"
)

// recordingSender records every envelope handed to it and can be told
// to fail.
type recordingSender struct {
	mu   sync.Mutex
	sent []*wire.Envelope
	fail bool
}

func (s *recordingSender) Send(_ context.Context, env *wire.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("wire down")
	}
	s.sent = append(s.sent, env)
	return nil
}

func (s *recordingSender) Sent() []*wire.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*wire.Envelope, len(s.sent))
	copy(out, s.sent)
	return out
}

// recordingExchanger records requests and answers each command with a
// canned msgpack body. Unconfigured commands get an OK status.
type recordingExchanger struct {
	mu        sync.Mutex
	requests  []*protocol.Request
	responses map[string][]byte // command name -> response body
	fail      bool
}

func newRecordingExchanger() *recordingExchanger {
	return &recordingExchanger{responses: make(map[string][]byte)}
}

func (e *recordingExchanger) respondWith(command string, body any) {
	data, err := msgpack.Marshal(body)
	if err != nil {
		panic(err)
	}
	e.mu.Lock()
	e.responses[command] = data
	e.mu.Unlock()
}

func (e *recordingExchanger) Exchange(_ context.Context, req *protocol.Request) (*protocol.Response, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail {
		return nil, errors.New("no response")
	}
	e.requests = append(e.requests, req)
	if body, ok := e.responses[req.Command]; ok {
		return &protocol.Response{Body: body}, nil
	}
	data, _ := msgpack.Marshal(protocol.Status{Code: 200, Message: "OK"})
	return &protocol.Response{Body: data}, nil
}

func (e *recordingExchanger) Requests() []*protocol.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*protocol.Request, len(e.requests))
	copy(out, e.requests)
	return out
}

func (e *recordingExchanger) requestsFor(command string) []*protocol.Request {
	var out []*protocol.Request
	for _, r := range e.Requests() {
		if r.Command == command {
			out = append(out, r)
		}
	}
	return out
}
