package router

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/ricsam/richie-rpc-sub000/contract"
	"github.com/ricsam/richie-rpc-sub000/errors"
	"github.com/ricsam/richie-rpc-sub000/metric"
)

// StreamContentType signals the newline-delimited framing to consumers.
const StreamContentType = "application/x-ndjson"

// streamFinalFrame is the distinguished terminal line of a stream.
type streamFinalFrame struct {
	Final bool `json:"__final__"`
	Data  any  `json:"data,omitempty"`
}

// StreamEmitter is the handle a streaming handler pushes chunks through. One
// emitter exists per in-flight response and is owned by the handler driving
// it; Send and Close are safe to call from one goroutine at a time.
//
// State machine: open → (chunk)* → closed, with at most one final frame
// immediately before closed. Send after Close is a no-op returning
// ErrEmitterClosed; Close is idempotent.
type StreamEmitter struct {
	mu      sync.Mutex
	open    bool
	started bool // headers written

	w        http.ResponseWriter
	flusher  http.Flusher
	endpoint string
	metrics  *metric.Registry
}

func newStreamEmitter(w http.ResponseWriter, endpoint string, metrics *metric.Registry) *StreamEmitter {
	flusher, _ := w.(http.Flusher)
	return &StreamEmitter{
		open:     true,
		w:        w,
		flusher:  flusher,
		endpoint: endpoint,
		metrics:  metrics,
	}
}

// IsOpen reports whether the emitter still accepts chunks.
func (e *StreamEmitter) IsOpen() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.open
}

// Send writes one chunk as one self-contained line of the stream.
func (e *StreamEmitter) Send(chunk any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.open {
		return errors.ErrEmitterClosed
	}
	if err := e.writeLine(chunk); err != nil {
		// Write failure means the client is gone; no further frames can land.
		e.open = false
		return errors.WrapTransport(err, "StreamEmitter", "Send", "chunk write")
	}
	e.metrics.ObserveChunk(e.endpoint, contract.KindStreaming.String())
	return nil
}

// Close writes the distinguished final line carrying the optional final
// payload and terminates the stream. Subsequent closes are no-ops.
func (e *StreamEmitter) Close(final any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.open {
		return nil
	}
	e.open = false
	frame := streamFinalFrame{Final: true, Data: final}
	if err := e.writeLine(frame); err != nil {
		return errors.WrapTransport(err, "StreamEmitter", "Close", "final write")
	}
	return nil
}

// abort closes the emitter without emitting any further frame. Used when the
// handler fails after chunks were already sent.
func (e *StreamEmitter) abort() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.open = false
}

// hasStarted reports whether any frame reached the wire.
func (e *StreamEmitter) hasStarted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}

// writeLine serializes one value as one line. Callers hold e.mu.
func (e *StreamEmitter) writeLine(value any) error {
	if !e.started {
		e.w.Header().Set("Content-Type", StreamContentType)
		e.w.Header().Set("Cache-Control", "no-cache")
		e.w.Header().Set("X-Accel-Buffering", "no")
		e.w.WriteHeader(http.StatusOK)
		e.started = true
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if _, err := e.w.Write(append(data, '\n')); err != nil {
		return err
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}

// serveStreaming runs the push-based chunk dispatch. Returns the top-level
// status written.
func (rt *Router) serveStreaming(
	w http.ResponseWriter,
	req *http.Request,
	name string,
	_ contract.Endpoint,
	r *Request,
) int {
	h, ok := rt.streaming[name]
	if !ok {
		writeErrorResponse(w, http.StatusInternalServerError, errors.ErrHandlerMissing)
		return http.StatusInternalServerError
	}

	em := newStreamEmitter(w, name, rt.metrics)
	rt.metrics.StreamOpened(contract.KindStreaming.String())
	defer rt.metrics.StreamClosed(contract.KindStreaming.String())

	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = errors.WrapInternal(fmt.Errorf("handler panic: %v", p),
					"Router", "serveStreaming", name)
			}
		}()
		return h(req.Context(), r, em)
	}()

	if err != nil {
		r.Logger.Error("stream handler failed", slog.String("error", err.Error()))
		if !em.hasStarted() {
			// Nothing reached the wire yet; surface a plain error status so
			// the client never attempts a streaming parse.
			writeErrorResponse(w, http.StatusInternalServerError,
				errors.WrapInternal(err, "Router", "serveStreaming", name))
			return http.StatusInternalServerError
		}
		// Chunks already went out: terminate without a final frame.
		em.abort()
		return http.StatusOK
	}

	// A handler that returns without closing still terminates the protocol
	// with an empty final frame.
	if em.IsOpen() {
		if closeErr := em.Close(nil); closeErr != nil {
			r.Logger.Warn("stream close failed", slog.String("error", closeErr.Error()))
		}
	}
	return http.StatusOK
}
