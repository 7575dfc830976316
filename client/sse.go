package client

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ricsam/richie-rpc-sub000/contract"
	"github.com/ricsam/richie-rpc-sub000/errors"
	"github.com/ricsam/richie-rpc-sub000/schema"
)

// Event is one server-sent event, with its data already validated against
// the endpoint's schema for that event name.
type Event struct {
	ID   string
	Name string
	Data any
}

// SSEStream consumes one text/event-stream response. Events arrive in order
// on the Events channel; the channel closes when the server ends the
// stream, the context is canceled, or an error occurs (check Err after the
// channel closes). The last received event id is tracked for reconnects.
type SSEStream struct {
	cancel context.CancelFunc
	events chan Event
	group  *errgroup.Group

	mu     sync.Mutex
	lastID string

	closeOnce sync.Once
}

// SSEOption configures one SSE subscription.
type SSEOption func(*sseConfig)

type sseConfig struct {
	lastEventID string
}

// WithLastEventID resumes a subscription by sending the Last-Event-ID
// header, typically from a previous handle's LastEventID.
func WithLastEventID(id string) SSEOption {
	return func(cfg *sseConfig) { cfg.lastEventID = id }
}

// SSE opens a server-sent-events endpoint and returns a handle over its
// events. Canceling the context disconnects; the server observes the
// disconnect through its own write failure.
func (c *Client) SSE(ctx context.Context, name string, req *Request, opts ...SSEOption) (*SSEStream, error) {
	ep, err := c.endpoint(name, contract.KindSSE)
	if err != nil {
		return nil, err
	}
	var cfg sseConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, cancel := context.WithCancel(ctx)
	httpReq, err := c.buildRequest(ctx, name, ep.Method, ep, req)
	if err != nil {
		cancel()
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")
	if cfg.lastEventID != "" {
		httpReq.Header.Set("Last-Event-ID", cfg.lastEventID)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		cancel()
		return nil, errors.WrapTransport(err, "Client", "SSE", name)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		if _, declared := ep.ErrorResponses[resp.StatusCode]; declared {
			_, derr := c.decodeResponse(name, ep, resp.StatusCode, raw)
			return nil, derr
		}
		return nil, undeclaredStatusError(name, resp.StatusCode, raw)
	}

	group, gctx := errgroup.WithContext(ctx)
	s := &SSEStream{
		cancel: cancel,
		events: make(chan Event),
		group:  group,
		lastID: cfg.lastEventID,
	}
	group.Go(func() error {
		defer close(s.events)
		defer resp.Body.Close()
		return s.readLoop(gctx, ep, resp.Body)
	})
	return s, nil
}

// Events is the ordered stream of validated events.
func (s *SSEStream) Events() <-chan Event {
	return s.events
}

// Err reports why the stream ended. Valid after the Events channel closes;
// nil for a natural close or the caller's own cancellation.
func (s *SSEStream) Err() error {
	err := s.group.Wait()
	if err != nil && !isCancellation(err) {
		return err
	}
	return nil
}

// LastEventID returns the id of the most recent event carrying one. Feed it
// to WithLastEventID to resume after a disconnect.
func (s *SSEStream) LastEventID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastID
}

// Close disconnects. Safe to call at any point and more than once.
func (s *SSEStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		for range s.events {
		}
		//nolint:errcheck // abort path; the outcome no longer matters
		s.group.Wait()
	})
	return nil
}

func (s *SSEStream) readLoop(ctx context.Context, ep contract.Endpoint, body io.Reader) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64<<10), maxStreamLineBytes)

	var (
		id        string
		eventName string
		dataLines []string
	)
	flush := func() error {
		if len(dataLines) == 0 {
			id, eventName = "", ""
			return nil
		}
		name := eventName
		if name == "" {
			name = "message"
		}
		ev, err := s.buildEvent(ep, id, name, strings.Join(dataLines, "\n"))
		id, eventName, dataLines = "", "", nil
		if err != nil {
			return err
		}
		select {
		case s.events <- ev:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if err := flush(); err != nil {
				return err
			}
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case strings.HasPrefix(line, "id: "):
			id = line[len("id: "):]
		case strings.HasPrefix(line, "event: "):
			eventName = line[len("event: "):]
		case strings.HasPrefix(line, "data: "):
			dataLines = append(dataLines, line[len("data: "):])
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.WrapTransport(err, "SSEStream", "readLoop", "stream read")
	}
	return flush()
}

// buildEvent validates one parsed record against the endpoint's event
// table. An event name the contract does not declare is a contract
// violation, as is data failing the declared schema.
func (s *SSEStream) buildEvent(ep contract.Endpoint, id, name, data string) (Event, error) {
	eventSchema, declared := ep.Events[name]
	if !declared {
		return Event{}, errors.NewValidationError(errors.PartEvent, []errors.Issue{
			{Path: "event", Message: "undeclared event type " + name},
		})
	}
	var payload any
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return Event{}, errors.NewValidationError(errors.PartEvent, []errors.Issue{
			{Path: "data", Message: "event data is not valid JSON"},
		})
	}
	validated, issues := schema.Validate(eventSchema, payload)
	if len(issues) > 0 {
		return Event{}, errors.NewValidationError(errors.PartEvent, issues)
	}
	if id != "" {
		s.mu.Lock()
		s.lastID = id
		s.mu.Unlock()
	}
	return Event{ID: id, Name: name, Data: validated}, nil
}
