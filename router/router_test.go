package router

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ricsam/richie-rpc-sub000/contract"
	"github.com/ricsam/richie-rpc-sub000/errors"
	"github.com/ricsam/richie-rpc-sub000/schema"
)

func userContract(t *testing.T) *contract.Contract {
	t.Helper()
	userSchema := schema.MustJSON(`{
		"type": "object",
		"properties": {"id": {"type": "string"}, "name": {"type": "string"}},
		"required": ["id", "name"]
	}`)
	errSchema := schema.MustJSON(`{
		"type": "object",
		"properties": {"error": {"type": "string"}, "message": {"type": "string"}},
		"required": ["error", "message"]
	}`)
	c, err := contract.New(
		contract.Entry{Name: "getUser", Endpoint: contract.Endpoint{
			Kind:           contract.KindStandard,
			Method:         "GET",
			Path:           "/users/:id",
			Responses:      map[int]schema.Schema{200: userSchema},
			ErrorResponses: map[int]schema.Schema{404: errSchema},
		}},
		contract.Entry{Name: "deleteUser", Endpoint: contract.Endpoint{
			Kind:      contract.KindStandard,
			Method:    "DELETE",
			Path:      "/users/:id",
			Responses: map[int]schema.Schema{204: nil},
		}},
		contract.Entry{Name: "createUser", Endpoint: contract.Endpoint{
			Kind:   contract.KindStandard,
			Method: "POST",
			Path:   "/users",
			Body: schema.MustJSON(`{
				"type": "object",
				"properties": {"name": {"type": "string"}},
				"required": ["name"]
			}`),
			Responses: map[int]schema.Schema{201: userSchema},
		}},
	)
	require.NoError(t, err)
	return c
}

func TestRouter_StandardSuccess(t *testing.T) {
	rt := New(userContract(t))
	require.NoError(t, rt.Standard("getUser", func(_ context.Context, req *Request) (*Response, error) {
		params := req.Params.(map[string]any)
		return &Response{
			Status: 200,
			Body:   map[string]any{"id": params["id"], "name": "Alice"},
		}, nil
	}))

	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, httptest.NewRequest("GET", "/users/42", nil))

	require.Equal(t, 200, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.JSONEq(t, `{"id": "42", "name": "Alice"}`, rec.Body.String())
}

func TestRouter_RouteNotFound(t *testing.T) {
	rt := New(userContract(t))

	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, httptest.NewRequest("GET", "/missing", nil))

	require.Equal(t, 404, rec.Code)
	assert.Contains(t, rec.Body.String(), "Route Not Found")
}

func TestRouter_MethodMismatchIsNotFound(t *testing.T) {
	rt := New(userContract(t))

	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, httptest.NewRequest("PATCH", "/users/42", nil))
	assert.Equal(t, 404, rec.Code)
}

func TestRouter_ValidationShortCircuitsHandler(t *testing.T) {
	rt := New(userContract(t))
	handlerRan := false
	require.NoError(t, rt.Standard("createUser", func(_ context.Context, _ *Request) (*Response, error) {
		handlerRan = true
		return &Response{Status: 201, Body: map[string]any{"id": "1", "name": "x"}}, nil
	}))

	req := httptest.NewRequest("POST", "/users", strings.NewReader(`{"age": 3}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)

	require.Equal(t, 400, rec.Code)
	assert.False(t, handlerRan)

	var body struct {
		Error  string         `json:"error"`
		Part   string         `json:"part"`
		Issues []errors.Issue `json:"issues"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Validation Failed", body.Error)
	assert.Equal(t, "body", body.Part)
	assert.NotEmpty(t, body.Issues)
}

func TestRouter_ResponseValidationFailure(t *testing.T) {
	rt := New(userContract(t))
	require.NoError(t, rt.Standard("getUser", func(_ context.Context, _ *Request) (*Response, error) {
		// Violates the declared 200 schema: name is missing.
		return &Response{Status: 200, Body: map[string]any{"id": "42"}}, nil
	}))

	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, httptest.NewRequest("GET", "/users/42", nil))

	require.Equal(t, 500, rec.Code)
	assert.Contains(t, rec.Body.String(), "Response Validation Failed")
}

func TestRouter_UndeclaredStatusSkipsValidation(t *testing.T) {
	rt := New(userContract(t))
	require.NoError(t, rt.Standard("getUser", func(_ context.Context, _ *Request) (*Response, error) {
		// 418 is declared nowhere: the intentional escape hatch.
		return &Response{Status: 418, Body: map[string]any{"anything": true}}, nil
	}))

	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, httptest.NewRequest("GET", "/users/42", nil))

	require.Equal(t, 418, rec.Code)
	assert.JSONEq(t, `{"anything": true}`, rec.Body.String())
}

func TestRouter_DeclaredErrorStatusIsValidatedAndServed(t *testing.T) {
	rt := New(userContract(t))
	require.NoError(t, rt.Standard("getUser", func(_ context.Context, _ *Request) (*Response, error) {
		return &Response{Status: 404, Body: map[string]any{"error": "not_found", "message": "no such user"}}, nil
	}))

	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, httptest.NewRequest("GET", "/users/42", nil))

	require.Equal(t, 404, rec.Code)
	assert.JSONEq(t, `{"error": "not_found", "message": "no such user"}`, rec.Body.String())
}

func TestRouter_NoContent(t *testing.T) {
	rt := New(userContract(t))
	require.NoError(t, rt.Standard("deleteUser", func(_ context.Context, _ *Request) (*Response, error) {
		return &Response{Status: 204}, nil
	}))

	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, httptest.NewRequest("DELETE", "/users/42", nil))

	require.Equal(t, 204, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestRouter_NoContentWithBodyIsContractViolation(t *testing.T) {
	rt := New(userContract(t))
	require.NoError(t, rt.Standard("deleteUser", func(_ context.Context, _ *Request) (*Response, error) {
		return &Response{Status: 204, Body: map[string]any{"oops": true}}, nil
	}))

	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, httptest.NewRequest("DELETE", "/users/42", nil))
	assert.Equal(t, 500, rec.Code)
}

func TestRouter_HandlerPanicIsOpaque500(t *testing.T) {
	rt := New(userContract(t))
	require.NoError(t, rt.Standard("getUser", func(_ context.Context, _ *Request) (*Response, error) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, httptest.NewRequest("GET", "/users/42", nil))

	require.Equal(t, 500, rec.Code)
	assert.Contains(t, rec.Body.String(), "Internal Server Error")
	assert.NotContains(t, rec.Body.String(), "boom")
}

func TestRouter_HandlerErrorIsOpaque500(t *testing.T) {
	rt := New(userContract(t))
	require.NoError(t, rt.Standard("getUser", func(_ context.Context, _ *Request) (*Response, error) {
		return nil, fmt.Errorf("database exploded")
	}))

	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, httptest.NewRequest("GET", "/users/42", nil))

	require.Equal(t, 500, rec.Code)
	assert.NotContains(t, rec.Body.String(), "database exploded")
}

func TestRouter_FirstDeclaredMatchWins(t *testing.T) {
	// Declaration order decides; the capture route shadows the literal one.
	c, err := contract.New(
		contract.Entry{Name: "byId", Endpoint: contract.Endpoint{
			Kind: contract.KindStandard, Method: "GET", Path: "/items/:id",
		}},
		contract.Entry{Name: "special", Endpoint: contract.Endpoint{
			Kind: contract.KindStandard, Method: "GET", Path: "/items/special",
		}},
	)
	require.NoError(t, err)

	rt := New(c)
	var hit string
	require.NoError(t, rt.Standard("byId", func(_ context.Context, req *Request) (*Response, error) {
		hit = "byId"
		return &Response{Status: 200, Body: req.Params}, nil
	}))
	require.NoError(t, rt.Standard("special", func(_ context.Context, _ *Request) (*Response, error) {
		hit = "special"
		return &Response{Status: 200, Body: nil}, nil
	}))

	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, httptest.NewRequest("GET", "/items/special", nil))

	require.Equal(t, 200, rec.Code)
	assert.Equal(t, "byId", hit, "first declared entry wins, no specificity scoring")
}

func TestRouter_RegisterKindMismatch(t *testing.T) {
	rt := New(userContract(t))
	err := rt.Streaming("getUser", func(_ context.Context, _ *Request, _ *StreamEmitter) error {
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrKindMismatch)

	err = rt.Standard("nope", func(_ context.Context, _ *Request) (*Response, error) { return nil, nil })
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrEndpointNotFound)
}

func TestRouter_RequestIDPassthrough(t *testing.T) {
	rt := New(userContract(t))
	require.NoError(t, rt.Standard("getUser", func(_ context.Context, req *Request) (*Response, error) {
		return &Response{Status: 200, Body: map[string]any{"id": req.RequestID, "name": "x"}}, nil
	}))

	req := httptest.NewRequest("GET", "/users/1", nil)
	req.Header.Set("X-Request-ID", "req-abc")
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)

	assert.Equal(t, "req-abc", rec.Header().Get("X-Request-ID"))
}

func TestRouter_CustomNotFoundHandler(t *testing.T) {
	rt := New(userContract(t), WithNotFoundHandler(http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(404)
			//nolint:errcheck
			io.WriteString(w, "custom miss")
		})))

	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, httptest.NewRequest("GET", "/missing", nil))
	assert.Equal(t, "custom miss", rec.Body.String())
}

func TestRouter_CustomHeaderSuppressesJSONDefault(t *testing.T) {
	c, err := contract.New(contract.Entry{Name: "text", Endpoint: contract.Endpoint{
		Kind: contract.KindStandard, Method: "GET", Path: "/text",
	}})
	require.NoError(t, err)

	rt := New(c)
	require.NoError(t, rt.Standard("text", func(_ context.Context, _ *Request) (*Response, error) {
		h := http.Header{}
		h.Set("Content-Type", "text/plain")
		return &Response{Status: 200, Body: "hi", Header: h}, nil
	}))

	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, httptest.NewRequest("GET", "/text", nil))
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
}
