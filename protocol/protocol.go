// Package protocol implements the generic typed request/response
// exchange used for acks, status queries, and tag/event mutation.
//
// The command set is closed: every command is declared in the table
// below with its operation kind and namespace, and dispatch is a table
// lookup rather than string-driven registration.
package protocol

import (
	"context"
	"errors"
	"fmt"
	"unicode"

	"github.com/vmihailenco/msgpack/v5"
)

var (
	// ErrValidation indicates a request rejected before any transport
	// call.
	ErrValidation = errors.New("validation failed")

	// ErrTransport wraps a failed or timed-out round trip.
	ErrTransport = errors.New("transport failure")

	// ErrUnknownCommand indicates a command outside the closed set.
	ErrUnknownCommand = errors.New("unknown command")
)

// Namespaces partition the request/response exchange.
const (
	NamespaceMsgState = "courier:msg:state"
	NamespaceMsgAck   = "courier:msg:ack"
)

// Op is the operation kind of a command.
type Op uint8

const (
	OpGet Op = iota
	OpSet
)

// Command identifies one request/response exchange type.
type Command uint8

const (
	CmdQuery Command = iota
	CmdAck
	CmdGetTags
	CmdSetTags
	CmdAddTags
	CmdRemoveTags
	CmdGetEvents
	CmdSetEvents
	CmdAddEvents
	CmdRemoveEvents
)

// spec describes one command's wire name, operation kind, and
// namespace.
type spec struct {
	name      string
	op        Op
	namespace string
}

// commandTable is the closed command set, built once at startup.
var commandTable = map[Command]spec{
	CmdQuery:        {"query", OpGet, NamespaceMsgState},
	CmdAck:          {"ack", OpSet, NamespaceMsgAck},
	CmdGetTags:      {"getTags", OpGet, NamespaceMsgState},
	CmdSetTags:      {"setTags", OpSet, NamespaceMsgState},
	CmdAddTags:      {"addTags", OpSet, NamespaceMsgState},
	CmdRemoveTags:   {"removeTags", OpSet, NamespaceMsgState},
	CmdGetEvents:    {"getEvents", OpGet, NamespaceMsgState},
	CmdSetEvents:    {"setEvents", OpSet, NamespaceMsgState},
	CmdAddEvents:    {"addEvents", OpSet, NamespaceMsgState},
	CmdRemoveEvents: {"removeEvents", OpSet, NamespaceMsgState},
}

// Name returns the command's wire name.
func (c Command) Name() string {
	if s, ok := commandTable[c]; ok {
		return s.name
	}
	return fmt.Sprintf("command(%d)", uint8(c))
}

// Op returns the command's operation kind.
func (c Command) Op() Op {
	return commandTable[c].op
}

// Namespace returns the command's namespace.
func (c Command) Namespace() string {
	return commandTable[c].namespace
}

// Commands returns every command in the closed set.
func Commands() []Command {
	out := make([]Command, 0, len(commandTable))
	for c := range commandTable {
		out = append(out, c)
	}
	return out
}

// Request is one outbound exchange.
type Request struct {
	Command   string `msgpack:"command"`
	Namespace string `msgpack:"namespace"`
	Body      []byte `msgpack:"body"`
}

// Response is the matched reply to a Request.
type Response struct {
	Body []byte `msgpack:"body"`
}

// Exchanger performs one blocking request/response round trip. It must
// honor ctx and fail with a transport-level error when no response
// arrives within the configured window.
type Exchanger interface {
	Exchange(ctx context.Context, req *Request) (*Response, error)
}

// Call encodes body, performs the round trip for a command from the
// closed set, and decodes the reply into out.
func Call(ctx context.Context, ex Exchanger, cmd Command, body, out any) error {
	s, ok := commandTable[cmd]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownCommand, cmd)
	}

	encoded, err := msgpack.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: encode %s request: %v", ErrValidation, s.name, err)
	}

	resp, err := ex.Exchange(ctx, &Request{Command: s.name, Namespace: s.namespace, Body: encoded})
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrTransport, s.name, err)
	}

	if out == nil {
		return nil
	}
	if err := msgpack.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", ErrTransport, s.name, err)
	}
	return nil
}

// MaxTagLength bounds tag and event values.
const MaxTagLength = 64

// ValidateTags checks a non-empty list of tag or event values: each
// must be non-empty, at most MaxTagLength bytes, printable, and free of
// commas (the server's list separator).
func ValidateTags(tags []string) error {
	if len(tags) == 0 {
		return fmt.Errorf("%w: list of tags cannot be null or empty", ErrValidation)
	}
	for _, tag := range tags {
		if tag == "" {
			return fmt.Errorf("%w: empty tag", ErrValidation)
		}
		if len(tag) > MaxTagLength {
			return fmt.Errorf("%w: tag %q exceeds %d bytes", ErrValidation, tag, MaxTagLength)
		}
		for _, r := range tag {
			if r == ',' || !unicode.IsPrint(r) {
				return fmt.Errorf("%w: tag %q contains disallowed character", ErrValidation, tag)
			}
		}
	}
	return nil
}
