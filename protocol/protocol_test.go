package protocol

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

// echoExchanger decodes the request body as a TagList and echoes it
// back, recording what it saw.
type echoExchanger struct {
	lastReq *Request
	err     error
}

func (e *echoExchanger) Exchange(_ context.Context, req *Request) (*Response, error) {
	e.lastReq = req
	if e.err != nil {
		return nil, e.err
	}
	return &Response{Body: req.Body}, nil
}

func TestCommandTableIsClosedAndComplete(t *testing.T) {
	want := map[string]Op{
		"query":        OpGet,
		"ack":          OpSet,
		"getTags":      OpGet,
		"setTags":      OpSet,
		"addTags":      OpSet,
		"removeTags":   OpSet,
		"getEvents":    OpGet,
		"setEvents":    OpSet,
		"addEvents":    OpSet,
		"removeEvents": OpSet,
	}

	cmds := Commands()
	require.Len(t, cmds, len(want))
	seen := make(map[string]bool)
	for _, c := range cmds {
		op, ok := want[c.Name()]
		require.True(t, ok, "unexpected command %q", c.Name())
		assert.Equal(t, op, c.Op(), "wrong op for %q", c.Name())
		assert.False(t, seen[c.Name()], "command %q appears twice", c.Name())
		seen[c.Name()] = true
	}
	assert.Equal(t, NamespaceMsgAck, CmdAck.Namespace())
	assert.Equal(t, NamespaceMsgState, CmdQuery.Namespace())
}

func TestCallRoundTrip(t *testing.T) {
	ex := &echoExchanger{}
	in := TagList{IDType: IDTypeMessage, ID: "m-1", Tags: []string{"a", "b"}}

	var out TagList
	require.NoError(t, Call(context.Background(), ex, CmdSetTags, in, &out))
	assert.Equal(t, in, out)
	assert.Equal(t, "setTags", ex.lastReq.Command)
	assert.Equal(t, NamespaceMsgState, ex.lastReq.Namespace)
}

func TestCallTransportFailure(t *testing.T) {
	ex := &echoExchanger{err: errors.New("timeout waiting for response")}
	err := Call(context.Background(), ex, CmdAck, AckBody{MessageID: "m-1"}, &Status{})
	assert.ErrorIs(t, err, ErrTransport)
}

func TestCallUnknownCommand(t *testing.T) {
	err := Call(context.Background(), &echoExchanger{}, Command(99), nil, nil)
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestCallNilOutSkipsDecode(t *testing.T) {
	ex := &echoExchanger{}
	require.NoError(t, Call(context.Background(), ex, CmdAck, AckBody{}, nil))
}

func TestCallBadResponseBody(t *testing.T) {
	ex := &badBodyExchanger{}
	var out TagList
	err := Call(context.Background(), ex, CmdGetTags, MsgID{IDType: IDTypeMessage, ID: "m"}, &out)
	assert.ErrorIs(t, err, ErrTransport)
}

type badBodyExchanger struct{}

func (badBodyExchanger) Exchange(context.Context, *Request) (*Response, error) {
	return &Response{Body: []byte{0xc1}}, nil
}

func TestValidateTags(t *testing.T) {
	t.Run("accepts normal tags", func(t *testing.T) {
		assert.NoError(t, ValidateTags([]string{"urgent", "billing-2026"}))
	})

	t.Run("rejects empty list", func(t *testing.T) {
		assert.ErrorIs(t, ValidateTags(nil), ErrValidation)
		assert.ErrorIs(t, ValidateTags([]string{}), ErrValidation)
	})

	t.Run("rejects empty tag", func(t *testing.T) {
		assert.ErrorIs(t, ValidateTags([]string{"ok", ""}), ErrValidation)
	})

	t.Run("rejects oversize tag", func(t *testing.T) {
		long := make([]byte, MaxTagLength+1)
		for i := range long {
			long[i] = 'x'
		}
		assert.ErrorIs(t, ValidateTags([]string{string(long)}), ErrValidation)
	})

	t.Run("rejects control characters and commas", func(t *testing.T) {
		assert.ErrorIs(t, ValidateTags([]string{"a,b"}), ErrValidation)
		assert.ErrorIs(t, ValidateTags([]string{"a\nb"}), ErrValidation)
	})

	t.Run("status query result matched by key", func(t *testing.T) {
		// StateResult decodes as a map keyed by message id regardless of
		// the server's entry order.
		raw, err := msgpack.Marshal(StateResult{
			"m-2": {{State: StateUnknown}},
			"m-1": {{DeviceID: "d1", State: "DELIVERED"}},
		})
		require.NoError(t, err)
		var got StateResult
		require.NoError(t, msgpack.Unmarshal(raw, &got))
		assert.Equal(t, "DELIVERED", got["m-1"][0].State)
		assert.Equal(t, StateUnknown, got["m-2"][0].State)
	})
}
