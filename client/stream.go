package client

import (
	"bufio"
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ricsam/richie-rpc-sub000/contract"
	"github.com/ricsam/richie-rpc-sub000/errors"
	"github.com/ricsam/richie-rpc-sub000/schema"
)

// maxStreamLineBytes bounds a single stream line. Chunks are meant to be
// small self-contained values; anything past this is a protocol violation.
const maxStreamLineBytes = 16 << 20

// Stream consumes one newline-delimited streaming response. Chunks arrive
// in order through Recv; the optional final payload is available through
// Final after Recv returns io.EOF. Canceling the context passed to
// Client.Stream, or calling Close, interrupts the transfer: no further
// chunk is ever observed after that point.
type Stream struct {
	cancel context.CancelFunc
	chunks chan any
	group  *errgroup.Group

	mu       sync.Mutex
	final    any
	hasFinal bool

	closeOnce sync.Once
}

// Stream opens a streaming endpoint and returns a handle over its chunks. A
// non-success top-level status means no streaming parse happens at all: the
// error (declared or otherwise) is returned directly and no handle exists.
func (c *Client) Stream(ctx context.Context, name string, req *Request) (*Stream, error) {
	ep, err := c.endpoint(name, contract.KindStreaming)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	httpReq, err := c.buildRequest(ctx, name, ep.Method, ep, req)
	if err != nil {
		cancel()
		return nil, err
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		cancel()
		return nil, errors.WrapTransport(err, "Client", "Stream", name)
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
	s := &Stream{
		cancel: cancel,
		chunks: make(chan any),
		group:  group,
	}
	group.Go(func() error {
		defer close(s.chunks)
		defer resp.Body.Close()
		return s.readLoop(gctx, ep, resp.Body)
	})
	return s, nil
}

// Recv returns the next chunk, validated against the endpoint's chunk
// schema. io.EOF marks the end of the stream; any other error means the
// stream failed and no further chunks exist.
func (s *Stream) Recv() (any, error) {
	chunk, ok := <-s.chunks
	if !ok {
		if err := s.group.Wait(); err != nil && !isCancellation(err) {
			return nil, err
		}
		return nil, io.EOF
	}
	return chunk, nil
}

// Final returns the terminal frame's payload, if the stream closed with
// one. Valid only after Recv has returned io.EOF.
func (s *Stream) Final() (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.final, s.hasFinal
}

// Close aborts the stream. Safe to call at any point and more than once;
// after Close returns, Recv never yields another chunk.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		for range s.chunks {
		}
		//nolint:errcheck // abort path; the outcome no longer matters
		s.group.Wait()
	})
	return nil
}

// streamFrame probes each line for the terminal frame marker.
type streamFrame struct {
	Final bool `json:"__final__"`
	Data  any  `json:"data"`
}

func (s *Stream) readLoop(ctx context.Context, ep contract.Endpoint, body io.Reader) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64<<10), maxStreamLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var frame streamFrame
		if err := json.Unmarshal(line, &frame); err == nil && frame.Final {
			validated, issues := schema.Validate(ep.FinalResponse, frame.Data)
			if len(issues) > 0 {
				return &errors.ResponseValidationError{Issues: issues}
			}
			s.mu.Lock()
			s.final = validated
			s.hasFinal = frame.Data != nil
			s.mu.Unlock()
			return nil
		}

		var chunk any
		if err := json.Unmarshal(line, &chunk); err != nil {
			return errors.WrapTransport(err, "Stream", "readLoop", "malformed chunk line")
		}
		validated, issues := schema.Validate(ep.Chunk, chunk)
		if len(issues) > 0 {
			return errors.NewValidationError(errors.PartChunk, issues)
		}

		select {
		case s.chunks <- validated:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.WrapTransport(err, "Stream", "readLoop", "stream read")
	}
	// Body ended without a terminal frame: the stream was aborted
	// server-side after chunks were sent. Not an error for the consumer;
	// there is simply no final payload.
	return nil
}

// isCancellation reports whether err is the caller's own abort rather than
// a stream failure.
func isCancellation(err error) bool {
	return stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded)
}
