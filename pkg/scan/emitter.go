package scan

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
)

// Emitter serializes events onto the outbound stream. Workers emit
// concurrently, so every write is taken under a single lock and flushed
// before the lock is released; event bytes are never interleaved mid-record.
//
// It also enforces the per-index state machine: once an index has reported a
// status, an equal-or-earlier status for that index is dropped, and nothing
// follows a terminal status.
type Emitter struct {
	mu      sync.Mutex
	enc     *json.Encoder
	flusher http.Flusher
	states  map[int]Status
	err     error
}

// NewEmitter writes newline-delimited JSON to w. When w implements
// http.Flusher each record is flushed immediately so the caller sees
// progress as it happens.
func NewEmitter(w io.Writer) *Emitter {
	e := &Emitter{
		enc:    json.NewEncoder(w),
		states: map[int]Status{},
	}
	if f, ok := w.(http.Flusher); ok {
		e.flusher = f
	}
	return e
}

// Emit writes one stream-level event (image, boxes, no-products, error,
// done). Write errors are remembered and subsequent emits become no-ops;
// a disconnected client must not abort in-flight region work.
func (e *Emitter) Emit(event any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.write(event)
}

// EmitStatus writes a region status event, dropping out-of-order
// transitions.
func (e *Emitter) EmitStatus(index int, status Status, event any) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if prev, ok := e.states[index]; ok {
		if prev.terminal() || statusRank(status) <= statusRank(prev) {
			slog.Warn("dropping out-of-order region event",
				"index", index, "have", prev, "got", status)
			return
		}
	}
	e.states[index] = status
	e.write(event)
}

func (e *Emitter) write(event any) {
	if e.err != nil {
		return
	}
	if err := e.enc.Encode(event); err != nil {
		e.err = err
		slog.Debug("stream write failed, discarding remaining events", "err", err)
		return
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
}
