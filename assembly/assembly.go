// Package assembly reassembles message payloads that arrive as ordered
// byte fragments.
//
// Fragments may arrive in any order. A payload is complete once the
// received fragments cover [0, declared total size) with no gaps; the
// assembled bytes are returned exactly once and the buffer is freed.
// The assembler imposes no timeout of its own; evicting buffers on
// session teardown is the caller's responsibility.
package assembly

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	// ErrSizeMismatch indicates fragments of one message declaring
	// different total sizes. The partial buffer is dropped.
	ErrSizeMismatch = errors.New("fragment declared size mismatch")

	// ErrFragmentBounds indicates a fragment that falls outside the
	// declared total size.
	ErrFragmentBounds = errors.New("fragment out of bounds")

	// ErrTooLarge indicates a declared total size above the configured
	// ceiling. The fragment is rejected before any allocation.
	ErrTooLarge = errors.New("declared payload size exceeds limit")
)

// DefaultMaxSize bounds declared payload sizes when no explicit limit
// is configured.
const DefaultMaxSize = 2 * 1024 * 1024

// span is a half-open covered byte range [start, end).
type span struct {
	start, end int
}

// buffer accumulates fragments for one message id.
type buffer struct {
	total   int
	data    []byte
	covered []span // sorted, non-overlapping, merged
}

// covers reports whether the buffer covers [0, total) completely.
func (b *buffer) complete() bool {
	return len(b.covered) == 1 && b.covered[0].start == 0 && b.covered[0].end == b.total
}

// add merges the range [start, end) into the coverage list.
func (b *buffer) add(start, end int) {
	b.covered = append(b.covered, span{start, end})
	sort.Slice(b.covered, func(i, j int) bool { return b.covered[i].start < b.covered[j].start })

	merged := b.covered[:1]
	for _, s := range b.covered[1:] {
		last := &merged[len(merged)-1]
		if s.start <= last.end {
			if s.end > last.end {
				last.end = s.end
			}
		} else {
			merged = append(merged, s)
		}
	}
	b.covered = merged
}

// Assembler reassembles payloads keyed by message id. Safe for
// concurrent use.
type Assembler struct {
	maxSize  int
	mu       sync.Mutex
	buffers  map[string]*buffer
	complete map[string]struct{} // ids already assembled this session
}

// New creates an empty Assembler. maxSize caps the declared total size
// a fragment may announce; declared sizes are remote input and bound
// the buffer allocation. A non-positive maxSize selects DefaultMaxSize.
func New(maxSize int) *Assembler {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Assembler{
		maxSize:  maxSize,
		buffers:  make(map[string]*buffer),
		complete: make(map[string]struct{}),
	}
}

// Feed adds one fragment. When the fragment completes the payload, the
// assembled bytes are returned with done=true and the buffer is freed.
// Fragments for an already-completed message are a no-op. A total-size
// disagreement between fragments of the same message is a protocol
// error: the partial buffer is dropped and the error returned.
func (a *Assembler) Feed(messageID string, offset int, fragment []byte, totalSize int) (assembled []byte, done bool, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.complete[messageID]; ok {
		return nil, false, nil
	}

	if totalSize > a.maxSize {
		return nil, false, fmt.Errorf("%w: declared %d, limit %d",
			ErrTooLarge, totalSize, a.maxSize)
	}
	// Written so the comparison cannot overflow on a hostile offset.
	if offset < 0 || totalSize < 0 || offset > totalSize || len(fragment) > totalSize-offset {
		return nil, false, fmt.Errorf("%w: offset %d len %d total %d",
			ErrFragmentBounds, offset, len(fragment), totalSize)
	}

	buf, ok := a.buffers[messageID]
	if !ok {
		buf = &buffer{total: totalSize, data: make([]byte, totalSize)}
		a.buffers[messageID] = buf
	} else if buf.total != totalSize {
		delete(a.buffers, messageID)
		logrus.WithFields(logrus.Fields{
			"message_id":    messageID,
			"declared_size": totalSize,
			"buffer_size":   buf.total,
		}).Warn("Dropping fragment buffer on declared size mismatch")
		return nil, false, fmt.Errorf("%w: message %s declared %d then %d",
			ErrSizeMismatch, messageID, buf.total, totalSize)
	}

	copy(buf.data[offset:], fragment)
	if len(fragment) > 0 {
		buf.add(offset, offset+len(fragment))
	}

	if totalSize == 0 || buf.complete() {
		delete(a.buffers, messageID)
		a.complete[messageID] = struct{}{}
		return buf.data, true, nil
	}
	return nil, false, nil
}

// Pending reports whether a partial buffer exists for the message.
func (a *Assembler) Pending(messageID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.buffers[messageID]
	return ok
}

// Evict discards any partial buffer for the message.
func (a *Assembler) Evict(messageID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.buffers, messageID)
}

// Reset discards all buffers and completion tracking. Callers invoke it
// on session teardown; assembly state never outlives a session.
func (a *Assembler) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buffers = make(map[string]*buffer)
	a.complete = make(map[string]struct{})
}
