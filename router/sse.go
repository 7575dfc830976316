package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/ricsam/richie-rpc-sub000/contract"
	"github.com/ricsam/richie-rpc-sub000/errors"
	"github.com/ricsam/richie-rpc-sub000/metric"
)

// SSEContentType is the standard event-stream content type.
const SSEContentType = "text/event-stream"

// SSEOption configures one Send call.
type SSEOption func(*sseOptions)

type sseOptions struct {
	id string
}

// WithEventID attaches an id: line to the event record.
func WithEventID(id string) SSEOption {
	return func(o *sseOptions) { o.id = id }
}

// SSEEmitter is the handle an SSE handler pushes named events through. One
// emitter exists per in-flight response. Send after Close is a no-op
// returning ErrEmitterClosed; Close is idempotent.
//
// Disconnect is observed on the sink itself: a failed write marks the remote
// side gone, cancels the handler context, and closes the emitter. This is
// the single-sink equivalent of teeing the output into a drain consumer.
type SSEEmitter struct {
	mu      sync.Mutex
	open    bool
	started bool

	w       http.ResponseWriter
	flusher http.Flusher
	cancel  context.CancelFunc
	done    chan struct{}

	endpoint string
	metrics  *metric.Registry
}

func newSSEEmitter(w http.ResponseWriter, cancel context.CancelFunc, endpoint string, metrics *metric.Registry) *SSEEmitter {
	flusher, _ := w.(http.Flusher)
	return &SSEEmitter{
		open:     true,
		w:        w,
		flusher:  flusher,
		cancel:   cancel,
		done:     make(chan struct{}),
		endpoint: endpoint,
		metrics:  metrics,
	}
}

// IsOpen reports whether the emitter still accepts events.
func (e *SSEEmitter) IsOpen() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.open
}

// Done is closed when the emitter closes via any path.
func (e *SSEEmitter) Done() <-chan struct{} {
	return e.done
}

// Send writes one event-stream record: optional id line, event-name line,
// one JSON data line, blank separator.
func (e *SSEEmitter) Send(event string, data any, opts ...SSEOption) error {
	var o sseOptions
	for _, opt := range opts {
		opt(&o)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.open {
		return errors.ErrEmitterClosed
	}

	e.start()

	payload, err := json.Marshal(data)
	if err != nil {
		return errors.WrapInternal(err, "SSEEmitter", "Send", "event marshal")
	}

	record := ""
	if o.id != "" {
		record += "id: " + o.id + "\n"
	}
	record += "event: " + event + "\n"
	record += "data: " + string(payload) + "\n\n"

	if _, err := e.w.Write([]byte(record)); err != nil {
		// The remote socket closed; trigger the cancellation signal and shut
		// the emitter down.
		e.closeLocked()
		return errors.WrapTransport(err, "SSEEmitter", "Send", "event write")
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	e.metrics.ObserveChunk(e.endpoint, contract.KindSSE.String())
	return nil
}

// Close terminates the event stream. Subsequent closes are no-ops.
func (e *SSEEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.open {
		return
	}
	e.closeLocked()
}

// start writes the event-stream headers once. Callers hold e.mu.
func (e *SSEEmitter) start() {
	if e.started {
		return
	}
	e.w.Header().Set("Content-Type", SSEContentType)
	e.w.Header().Set("Cache-Control", "no-cache")
	e.w.Header().Set("Connection", "keep-alive")
	e.w.Header().Set("X-Accel-Buffering", "no")
	e.w.WriteHeader(http.StatusOK)
	if e.flusher != nil {
		e.flusher.Flush()
	}
	e.started = true
}

// closeLocked shuts the emitter down. Callers hold e.mu.
func (e *SSEEmitter) closeLocked() {
	e.open = false
	e.cancel()
	close(e.done)
}

func (e *SSEEmitter) hasStarted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}

// forceStart flushes headers for handlers that return before sending their
// first event.
func (e *SSEEmitter) forceStart() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.open {
		e.start()
	}
}

// serveSSE runs the named-event dispatch. The handler may return a cleanup
// function; it runs exactly once regardless of which path ends the
// connection: natural close, handler error, or client disconnect.
func (rt *Router) serveSSE(
	w http.ResponseWriter,
	req *http.Request,
	name string,
	_ contract.Endpoint,
	r *Request,
) int {
	h, ok := rt.sse[name]
	if !ok {
		writeErrorResponse(w, http.StatusInternalServerError, errors.ErrHandlerMissing)
		return http.StatusInternalServerError
	}

	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()

	em := newSSEEmitter(w, cancel, name, rt.metrics)
	rt.metrics.StreamOpened(contract.KindSSE.String())
	defer rt.metrics.StreamClosed(contract.KindSSE.String())

	var cleanupOnce sync.Once
	runCleanup := func(cleanup func()) {
		if cleanup == nil {
			return
		}
		cleanupOnce.Do(cleanup)
	}

	cleanup, err := func() (cleanup func(), err error) {
		defer func() {
			if p := recover(); p != nil {
				err = errors.WrapInternal(fmt.Errorf("handler panic: %v", p),
					"Router", "serveSSE", name)
			}
		}()
		return h(ctx, r, em)
	}()

	if err != nil {
		r.Logger.Error("sse handler failed", slog.String("error", err.Error()))
		em.Close()
		runCleanup(cleanup)
		if !em.hasStarted() {
			writeErrorResponse(w, http.StatusInternalServerError,
				errors.WrapInternal(err, "Router", "serveSSE", name))
			return http.StatusInternalServerError
		}
		return http.StatusOK
	}

	// Handlers typically spawn a goroutine driving the emitter and return
	// immediately; make sure the stream headers are on the wire before
	// blocking.
	em.forceStart()

	select {
	case <-em.Done():
		// Closed by the handler or by a failed write.
	case <-ctx.Done():
		// Client disconnected; the http server canceled the request context.
		em.Close()
	}
	runCleanup(cleanup)
	return http.StatusOK
}
