package router

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ricsam/richie-rpc-sub000/contract"
	"github.com/ricsam/richie-rpc-sub000/schema"
)

func sseContract(t *testing.T) *contract.Contract {
	t.Helper()
	c, err := contract.New(contract.Entry{Name: "ticker", Endpoint: contract.Endpoint{
		Kind: contract.KindSSE,
		Path: "/ticker",
		Events: map[string]schema.Schema{
			"tick":  schema.Any(),
			"price": schema.Any(),
		},
	}})
	require.NoError(t, err)
	return c
}

type sseRecord struct {
	id    string
	event string
	data  string
}

func readSSERecords(t *testing.T, scanner *bufio.Scanner, n int) []sseRecord {
	t.Helper()
	var records []sseRecord
	current := sseRecord{}
	for len(records) < n && scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if current.event != "" {
				records = append(records, current)
				current = sseRecord{}
			}
		case strings.HasPrefix(line, "id: "):
			current.id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			current.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			current.data = strings.TrimPrefix(line, "data: ")
		}
	}
	return records
}

func TestSSE_EventRecordFormat(t *testing.T) {
	rt := New(sseContract(t))
	require.NoError(t, rt.SSE("ticker", func(_ context.Context, _ *Request, em *SSEEmitter) (func(), error) {
		require.NoError(t, em.Send("tick", map[string]any{"n": 1}, WithEventID("evt-1")))
		require.NoError(t, em.Send("price", 99.5))
		em.Close()
		return nil, nil
	}))

	server := httptest.NewServer(rt)
	defer server.Close()

	resp, err := http.Get(server.URL + "/ticker")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, SSEContentType, resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))

	records := readSSERecords(t, bufio.NewScanner(resp.Body), 2)
	require.Len(t, records, 2)

	assert.Equal(t, "evt-1", records[0].id)
	assert.Equal(t, "tick", records[0].event)
	assert.JSONEq(t, `{"n": 1}`, records[0].data)

	assert.Empty(t, records[1].id)
	assert.Equal(t, "price", records[1].event)
	assert.Equal(t, "99.5", records[1].data)
}

func TestSSE_CleanupRunsExactlyOnceOnNaturalClose(t *testing.T) {
	var cleanups atomic.Int32
	rt := New(sseContract(t))
	require.NoError(t, rt.SSE("ticker", func(_ context.Context, _ *Request, em *SSEEmitter) (func(), error) {
		go func() {
			//nolint:errcheck
			em.Send("tick", 1)
			em.Close()
			em.Close() // idempotent
		}()
		return func() { cleanups.Add(1) }, nil
	}))

	server := httptest.NewServer(rt)
	defer server.Close()

	resp, err := http.Get(server.URL + "/ticker")
	require.NoError(t, err)
	readSSERecords(t, bufio.NewScanner(resp.Body), 1)
	resp.Body.Close()

	assert.Eventually(t, func() bool { return cleanups.Load() == 1 },
		2*time.Second, 10*time.Millisecond)
	// Give any double-invocation a chance to appear.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), cleanups.Load())
}

func TestSSE_ClientDisconnectTriggersCleanup(t *testing.T) {
	var cleanups atomic.Int32
	canceled := make(chan struct{})

	rt := New(sseContract(t))
	require.NoError(t, rt.SSE("ticker", func(ctx context.Context, _ *Request, em *SSEEmitter) (func(), error) {
		go func() {
			ticker := time.NewTicker(20 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					close(canceled)
					return
				case <-ticker.C:
					//nolint:errcheck
					em.Send("tick", time.Now().UnixMilli())
				}
			}
		}()
		return func() { cleanups.Add(1) }, nil
	}))

	server := httptest.NewServer(rt)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, "GET", server.URL+"/ticker", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	// Consume one event, then drop the connection from the client side.
	readSSERecords(t, bufio.NewScanner(resp.Body), 1)
	cancel()
	resp.Body.Close()

	select {
	case <-canceled:
	case <-time.After(3 * time.Second):
		t.Fatal("handler context was never canceled after client disconnect")
	}

	assert.Eventually(t, func() bool { return cleanups.Load() == 1 },
		2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), cleanups.Load())
}

func TestSSE_HandlerErrorBeforeFirstEvent(t *testing.T) {
	var cleanups atomic.Int32
	rt := New(sseContract(t))
	require.NoError(t, rt.SSE("ticker", func(_ context.Context, _ *Request, _ *SSEEmitter) (func(), error) {
		return func() { cleanups.Add(1) }, assert.AnError
	}))

	server := httptest.NewServer(rt)
	defer server.Close()

	resp, err := http.Get(server.URL + "/ticker")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 500, resp.StatusCode)
	assert.Equal(t, int32(1), cleanups.Load())
}

func TestSSE_PostIsNotFound(t *testing.T) {
	rt := New(sseContract(t))
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, httptest.NewRequest("POST", "/ticker", nil))
	assert.Equal(t, 404, rec.Code)
}

func TestSSE_SendAfterCloseReturnsEmitterClosed(t *testing.T) {
	rt := New(sseContract(t))
	errCh := make(chan error, 1)
	require.NoError(t, rt.SSE("ticker", func(_ context.Context, _ *Request, em *SSEEmitter) (func(), error) {
		//nolint:errcheck
		em.Send("tick", 1)
		em.Close()
		errCh <- em.Send("tick", 2)
		return nil, nil
	}))

	server := httptest.NewServer(rt)
	defer server.Close()

	resp, err := http.Get(server.URL + "/ticker")
	require.NoError(t, err)
	defer resp.Body.Close()

	select {
	case sendErr := <-errCh:
		require.Error(t, sendErr)
	case <-time.After(2 * time.Second):
		t.Fatal("handler never reported the late send")
	}
}
