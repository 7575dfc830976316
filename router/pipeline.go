package router

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ricsam/richie-rpc-sub000/contract"
	"github.com/ricsam/richie-rpc-sub000/errors"
	"github.com/ricsam/richie-rpc-sub000/pkg/formcodec"
	"github.com/ricsam/richie-rpc-sub000/schema"
)

// parsedRequest carries the validated request parts handed to application
// handlers. Parts without a declared schema pass through unvalidated.
type parsedRequest struct {
	Params  any
	Query   any
	Headers any
	Body    any
}

// parseAndValidate runs the validation pipeline for one matched request:
// params, query, headers, then body, each validated against its declared
// schema. The first failing part short-circuits with a part-tagged
// ValidationError; application handlers never see unvalidated data.
func parseAndValidate(
	req *http.Request,
	ep contract.Endpoint,
	captures map[string]string,
	maxBodyBytes int64,
) (*parsedRequest, error) {
	params := make(map[string]any, len(captures))
	for name, value := range captures {
		params[name] = value
	}
	validParams, issues := schema.Validate(ep.Params, params)
	if len(issues) > 0 {
		return nil, errors.NewValidationError(errors.PartParams, issues)
	}

	query := NormalizeQuery(req.URL.Query())
	validQuery, issues := schema.Validate(ep.Query, query)
	if len(issues) > 0 {
		return nil, errors.NewValidationError(errors.PartQuery, issues)
	}

	headers := NormalizeHeaders(req.Header)
	validHeaders, issues := schema.Validate(ep.Headers, headers)
	if len(issues) > 0 {
		return nil, errors.NewValidationError(errors.PartHeaders, issues)
	}

	body, err := parseBody(req, maxBodyBytes)
	if err != nil {
		return nil, err
	}
	validBody, issues := schema.Validate(ep.Body, body)
	if len(issues) > 0 {
		return nil, errors.NewValidationError(errors.PartBody, issues)
	}

	return &parsedRequest{
		Params:  validParams,
		Query:   validQuery,
		Headers: validHeaders,
		Body:    validBody,
	}, nil
}

// NormalizeQuery converts raw query values into a plain structure prior to
// validation. Three shapes are recognized:
//
//   - single key=value: scalar string
//   - repeated key: array of strings
//   - bracket notation (filter[status]=x, tags[]=a&tags[]=b, items[0]=y):
//     nested objects and arrays
func NormalizeQuery(values url.Values) map[string]any {
	root := make(map[string]any)
	for key, vals := range values {
		segments := splitBracketKey(key)
		if len(segments) == 1 {
			if len(vals) == 1 {
				root[key] = vals[0]
			} else {
				arr := make([]any, len(vals))
				for i, v := range vals {
					arr[i] = v
				}
				root[key] = arr
			}
			continue
		}
		for _, v := range vals {
			setQueryPath(root, segments, v)
		}
	}
	resolveArrays(root)
	return root
}

// splitBracketKey parses "a[b][0][]" into ["a", "b", "0", ""].
func splitBracketKey(key string) []string {
	open := strings.IndexByte(key, '[')
	if open <= 0 || !strings.HasSuffix(key, "]") {
		return []string{key}
	}
	segments := []string{key[:open]}
	rest := key[open:]
	for len(rest) > 0 {
		if rest[0] != '[' {
			// Malformed; treat the whole key as flat.
			return []string{key}
		}
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return []string{key}
		}
		segments = append(segments, rest[1:end])
		rest = rest[end+1:]
	}
	return segments
}

// setQueryPath assigns value into the nested structure addressed by segments.
// An empty segment appends to an array; a numeric segment indexes an array;
// anything else keys a map.
func setQueryPath(root map[string]any, segments []string, value string) {
	var parent any = root
	for i, seg := range segments {
		last := i == len(segments)-1

		switch node := parent.(type) {
		case map[string]any:
			if last {
				node[seg] = value
				return
			}
			child := node[seg]
			child = prepareChild(child, segments[i+1])
			node[seg] = child
			parent = child
		case *[]any:
			idx := -1
			if seg == "" {
				idx = len(*node)
				*node = append(*node, nil)
			} else if n, err := strconv.Atoi(seg); err == nil {
				idx = n
				for len(*node) <= idx {
					*node = append(*node, nil)
				}
			} else {
				return
			}
			if last {
				(*node)[idx] = value
				return
			}
			child := prepareChild((*node)[idx], segments[i+1])
			(*node)[idx] = child
			parent = child
		default:
			return
		}
	}
}

// prepareChild returns an existing container or creates the one the next
// segment implies: an array for "" or numeric segments, a map otherwise.
func prepareChild(existing any, nextSeg string) any {
	if existing != nil {
		if m, ok := existing.(map[string]any); ok {
			return m
		}
		if arr, ok := existing.(*[]any); ok {
			return arr
		}
	}
	if nextSeg == "" {
		arr := make([]any, 0)
		return &arr
	}
	if _, err := strconv.Atoi(nextSeg); err == nil {
		arr := make([]any, 0)
		return &arr
	}
	return make(map[string]any)
}

// resolveArrays replaces *[]any build nodes with plain []any so validators
// and handlers see ordinary JSON-shaped data.
func resolveArrays(node any) any {
	switch v := node.(type) {
	case map[string]any:
		for key, child := range v {
			v[key] = resolveArrays(child)
		}
		return v
	case *[]any:
		out := make([]any, len(*v))
		for i, child := range *v {
			out[i] = resolveArrays(child)
		}
		return out
	case []any:
		for i, child := range v {
			v[i] = resolveArrays(child)
		}
		return v
	default:
		return node
	}
}

// NormalizeHeaders flattens request headers into a lowercase-keyed map of
// first values, the shape header schemas validate against.
func NormalizeHeaders(h http.Header) map[string]any {
	out := make(map[string]any, len(h))
	for name, vals := range h {
		if len(vals) == 0 {
			continue
		}
		out[strings.ToLower(name)] = vals[0]
	}
	return out
}

// parseBody reads and decodes the request body by content type: JSON,
// multipart form with file references, or raw text fallback. An absent body
// parses to nil.
func parseBody(req *http.Request, maxBodyBytes int64) (any, error) {
	if req.Body == nil || req.Method == http.MethodGet || req.Method == http.MethodHead {
		return nil, nil
	}

	contentType := req.Header.Get("Content-Type")
	mediaType := ""
	if contentType != "" {
		parsed, _, err := mime.ParseMediaType(contentType)
		if err == nil {
			mediaType = parsed
		}
	}

	if mediaType == "multipart/form-data" {
		// ParseMultipartForm's argument only bounds in-memory buffering, so
		// the total body size is capped on the reader itself.
		req.Body = http.MaxBytesReader(nil, req.Body, maxBodyBytes)
		if err := req.ParseMultipartForm(maxBodyBytes); err != nil {
			var tooLarge *http.MaxBytesError
			if stderrors.As(err, &tooLarge) {
				return nil, errors.NewValidationError(errors.PartBody,
					[]errors.Issue{{Message: "request body exceeds maximum size"}})
			}
			return nil, errors.NewValidationError(errors.PartBody,
				[]errors.Issue{{Message: "malformed multipart body: " + err.Error()}})
		}
		value, err := formcodec.Decode(req.MultipartForm)
		if err != nil {
			return nil, errors.NewValidationError(errors.PartBody,
				[]errors.Issue{{Message: err.Error()}})
		}
		return value, nil
	}

	raw, err := io.ReadAll(io.LimitReader(req.Body, maxBodyBytes+1))
	if err != nil {
		return nil, errors.WrapTransport(err, "Router", "parseBody", "body read")
	}
	if int64(len(raw)) > maxBodyBytes {
		return nil, errors.NewValidationError(errors.PartBody,
			[]errors.Issue{{Message: "request body exceeds maximum size"}})
	}
	if len(raw) == 0 {
		return nil, nil
	}

	if mediaType == "" || mediaType == "application/json" || strings.HasSuffix(mediaType, "+json") {
		var value any
		if err := json.Unmarshal(raw, &value); err != nil {
			return nil, errors.NewValidationError(errors.PartBody,
				[]errors.Issue{{Message: "malformed JSON body: " + err.Error()}})
		}
		return value, nil
	}

	// Raw text fallback for any other content type.
	return string(raw), nil
}
