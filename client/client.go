// Package client is the calling side of the contract: it builds requests
// from the same endpoint table the router serves, validates outgoing data
// before transmission, and returns a consumption handle matched to the
// endpoint kind: a parsed body for standard calls, a chunk handle for
// streaming, an event handle for SSE, a connection object for sockets, and
// raw bytes for downloads.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/ricsam/richie-rpc-sub000/contract"
	"github.com/ricsam/richie-rpc-sub000/errors"
	"github.com/ricsam/richie-rpc-sub000/pkg/formcodec"
	"github.com/ricsam/richie-rpc-sub000/schema"
)

// Request carries the caller-supplied parts of one outgoing request. Params
// fill the path template; Query is bracket-encoded onto the URL; Headers are
// set verbatim; Body is JSON-encoded, or multipart-encoded when it contains
// file values.
type Request struct {
	Params  map[string]any
	Query   any
	Headers map[string]string
	Body    any
}

// Client dispatches requests for one contract against one base URL. Safe
// for concurrent use.
type Client struct {
	contract       *contract.Contract
	socketContract *contract.SocketContract
	baseURL        string
	http           *http.Client
	headers        http.Header
	logger         *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithHeader adds a static header sent on every request, e.g. an
// Authorization token.
func WithHeader(key, value string) Option {
	return func(c *Client) { c.headers.Set(key, value) }
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithSocketContract supplies the WebSocket endpoint table so Socket can
// dial socket endpoints by name.
func WithSocketContract(sc *contract.SocketContract) Option {
	return func(c *Client) { c.socketContract = sc }
}

// New creates a Client for a contract rooted at baseURL.
func New(c *contract.Contract, baseURL string, opts ...Option) (*Client, error) {
	if c == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Client", "New", "contract is required")
	}
	if baseURL == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Client", "New", "base URL is required")
	}
	cl := &Client{
		contract: c,
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     http.DefaultClient,
		headers:  make(http.Header),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(cl)
	}
	return cl, nil
}

// Call performs a standard request/response exchange. The returned value is
// the response body validated against the endpoint's declared schema for the
// observed status. Statuses enumerated in ErrorResponses surface as a
// DeclaredError; network failures as a TransportError.
func (c *Client) Call(ctx context.Context, name string, req *Request) (any, error) {
	ep, err := c.endpoint(name, contract.KindStandard)
	if err != nil {
		return nil, err
	}

	httpReq, err := c.buildRequest(ctx, name, ep.Method, ep, req)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, errors.WrapTransport(err, "Client", "Call", name)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.WrapTransport(err, "Client", "Call", name)
	}
	return c.decodeResponse(name, ep, resp.StatusCode, raw)
}

// decodeResponse maps one completed response onto the endpoint's declared
// status tables.
func (c *Client) decodeResponse(name string, ep contract.Endpoint, status int, raw []byte) (any, error) {
	if errSchema, declared := ep.ErrorResponses[status]; declared {
		payload, err := decodeJSONBody(raw)
		if err != nil {
			return nil, errors.WrapInternal(err, "Client", "decodeResponse", name)
		}
		validated, issues := schema.Validate(errSchema, payload)
		if len(issues) > 0 {
			return nil, &errors.ResponseValidationError{Status: status, Issues: issues}
		}
		return nil, &errors.DeclaredError{Endpoint: name, Status: status, Payload: validated}
	}

	respSchema, declared := ep.Responses[status]
	if !declared {
		return nil, undeclaredStatusError(name, status, raw)
	}
	if status == http.StatusNoContent {
		return nil, nil
	}
	payload, err := decodeJSONBody(raw)
	if err != nil {
		return nil, errors.WrapInternal(err, "Client", "decodeResponse", name)
	}
	validated, issues := schema.Validate(respSchema, payload)
	if len(issues) > 0 {
		return nil, &errors.ResponseValidationError{Status: status, Issues: issues}
	}
	return validated, nil
}

func (c *Client) endpoint(name string, kind contract.Kind) (contract.Endpoint, error) {
	ep, ok := c.contract.Get(name)
	if !ok {
		return contract.Endpoint{}, errors.WrapNotFound(errors.ErrEndpointNotFound, "Client", "endpoint", name)
	}
	if ep.Kind != kind {
		return contract.Endpoint{}, errors.WrapInvalid(errors.ErrKindMismatch, "Client", "endpoint",
			fmt.Sprintf("%s is %s, not %s", name, ep.Kind, kind))
	}
	return ep, nil
}

// buildRequest validates the outgoing parts against the endpoint's schemas,
// then assembles the full HTTP request: substituted path, bracket-encoded
// query, headers, and a JSON or multipart body.
func (c *Client) buildRequest(ctx context.Context, name, method string, ep contract.Endpoint, req *Request) (*http.Request, error) {
	if req == nil {
		req = &Request{}
	}
	if err := validateOutbound(ep.Params, stringifyParams(req.Params), errors.PartParams); err != nil {
		return nil, err
	}
	if err := validateOutbound(ep.Query, req.Query, errors.PartQuery); err != nil {
		return nil, err
	}
	if err := validateOutbound(ep.Headers, headersValue(req.Headers), errors.PartHeaders); err != nil {
		return nil, err
	}
	if err := validateOutbound(ep.Body, req.Body, errors.PartBody); err != nil {
		return nil, err
	}

	path, err := buildPath(ep.Path, req.Params)
	if err != nil {
		return nil, err
	}
	fullURL := c.baseURL + path
	if q := encodeQuery(req.Query); len(q) > 0 {
		fullURL += "?" + q.Encode()
	}

	body, contentType, err := encodeBody(req.Body)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, errors.WrapInternal(err, "Client", "buildRequest", name)
	}
	for key, values := range c.headers {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	return httpReq, nil
}

// validateOutbound applies a part schema before transmission so contract
// violations fail locally instead of as a server 400.
func validateOutbound(s schema.Schema, value any, part errors.Part) error {
	if s == nil {
		return nil
	}
	if _, issues := schema.Validate(s, value); len(issues) > 0 {
		return errors.NewValidationError(part, issues)
	}
	return nil
}

// stringifyParams mirrors what the server-side matcher captures: every path
// parameter arrives as a string.
func stringifyParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}

func headersValue(headers map[string]string) map[string]any {
	out := make(map[string]any, len(headers))
	for k, v := range headers {
		out[strings.ToLower(k)] = v
	}
	return out
}

// buildPath substitutes :name and *name segments from params. A missing
// param is a params validation failure.
func buildPath(template string, params map[string]any) (string, error) {
	segments := strings.Split(strings.TrimPrefix(template, "/"), "/")
	out := make([]string, 0, len(segments))
	for _, seg := range segments {
		switch {
		case strings.HasPrefix(seg, ":"), strings.HasPrefix(seg, "*"):
			key := seg[1:]
			value, ok := params[key]
			if !ok {
				return "", errors.NewValidationError(errors.PartParams, []errors.Issue{
					{Path: key, Message: "missing path parameter"},
				})
			}
			text := fmt.Sprintf("%v", value)
			if seg[0] == '*' {
				// Wildcard values may span segments; escape each one.
				parts := strings.Split(text, "/")
				for i, p := range parts {
					parts[i] = url.PathEscape(p)
				}
				out = append(out, strings.Join(parts, "/"))
			} else {
				out = append(out, url.PathEscape(text))
			}
		default:
			out = append(out, seg)
		}
	}
	return "/" + strings.Join(out, "/"), nil
}

// encodeQuery serializes a query value with the bracket notation the
// server-side pipeline normalizes back: scalars as key=value, slices as
// key[i]=value, nested maps as key[sub]=value.
func encodeQuery(value any) url.Values {
	values := url.Values{}
	obj, ok := value.(map[string]any)
	if !ok {
		return values
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		encodeQueryValue(values, k, obj[k])
	}
	return values
}

func encodeQueryValue(values url.Values, prefix string, value any) {
	switch v := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			encodeQueryValue(values, fmt.Sprintf("%s[%s]", prefix, k), v[k])
		}
	case []any:
		for i, item := range v {
			encodeQueryValue(values, fmt.Sprintf("%s[%d]", prefix, i), item)
		}
	case nil:
		// skip
	default:
		values.Add(prefix, fmt.Sprintf("%v", v))
	}
}

// encodeBody picks the wire encoding for a request body: nothing for nil,
// multipart when the value contains files, JSON otherwise.
func encodeBody(body any) (io.Reader, string, error) {
	if body == nil {
		return nil, "", nil
	}
	if formcodec.HasFiles(body) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		if err := formcodec.Encode(mw, body); err != nil {
			return nil, "", err
		}
		if err := mw.Close(); err != nil {
			return nil, "", errors.WrapInternal(err, "Client", "encodeBody", "multipart close")
		}
		return &buf, mw.FormDataContentType(), nil
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, "", errors.WrapInternal(err, "Client", "encodeBody", "body marshal")
	}
	return bytes.NewReader(raw), "application/json", nil
}

func decodeJSONBody(raw []byte) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("response body is not valid JSON: %w", err)
	}
	return payload, nil
}

// undeclaredStatusError classifies a status the contract never mentions.
// Router-level failures keep their structure: a 400 wire error becomes a
// ValidationError again, a 404 a not-found. Anything else is opaque.
func undeclaredStatusError(name string, status int, raw []byte) error {
	var wire struct {
		Error  string         `json:"error"`
		Part   string         `json:"part"`
		Issues []errors.Issue `json:"issues"`
	}
	if json.Unmarshal(raw, &wire) == nil {
		switch wire.Error {
		case "Validation Failed":
			return errors.NewValidationError(errors.Part(wire.Part), wire.Issues)
		case "Route Not Found":
			return errors.WrapNotFound(errors.ErrRouteNotFound, "Client", "call", name)
		case "Response Validation Failed":
			return &errors.ResponseValidationError{Status: status}
		}
	}
	return errors.WrapInternal(
		fmt.Errorf("undeclared response status %d", status), "Client", "call", name)
}
