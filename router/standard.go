package router

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ricsam/richie-rpc-sub000/contract"
	"github.com/ricsam/richie-rpc-sub000/errors"
	"github.com/ricsam/richie-rpc-sub000/schema"
)

// serveStandard runs the request/response dispatch: invoke the handler,
// validate the body against the schema declared for its status code, then
// serialize as JSON. Returns the status written.
func (rt *Router) serveStandard(
	w http.ResponseWriter,
	req *http.Request,
	name string,
	ep contract.Endpoint,
	r *Request,
) int {
	h, ok := rt.standard[name]
	if !ok {
		writeErrorResponse(w, http.StatusInternalServerError, errors.ErrHandlerMissing)
		return http.StatusInternalServerError
	}

	resp, err := func() (resp *Response, err error) {
		defer func() {
			if p := recover(); p != nil {
				err = errors.WrapInternal(fmt.Errorf("handler panic: %v", p),
					"Router", "serveStandard", name)
			}
		}()
		return h(req.Context(), r)
	}()
	if err != nil {
		// Uncaught handler failure surfaces as an opaque 500.
		r.Logger.Error("handler failed", slog.String("error", err.Error()))
		writeErrorResponse(w, http.StatusInternalServerError, errors.WrapInternal(err, "Router", "serveStandard", name))
		return http.StatusInternalServerError
	}
	if resp == nil {
		r.Logger.Error("handler returned nil response")
		writeErrorResponse(w, http.StatusInternalServerError, errors.ErrHandlerMissing)
		return http.StatusInternalServerError
	}

	// Look up the declared schema for this status. Success and declared
	// error statuses are both validated; a status declared in neither map is
	// an intentional escape hatch and passes through unvalidated.
	var respSchema schema.Schema
	if s, declared := ep.Responses[resp.Status]; declared {
		respSchema = s
	} else if s, declared := ep.ErrorResponses[resp.Status]; declared {
		respSchema = s
	}
	if respSchema != nil {
		if _, issues := respSchema.Validate(resp.Body); len(issues) > 0 {
			rve := &errors.ResponseValidationError{Status: resp.Status, Issues: issues}
			r.Logger.Error("response validation failed", slog.String("error", rve.Error()))
			writeErrorResponse(w, http.StatusInternalServerError, rve)
			return http.StatusInternalServerError
		}
	}

	// 204 carries no body at all.
	if resp.Status == http.StatusNoContent {
		if resp.Body != nil {
			rve := &errors.ResponseValidationError{
				Status: resp.Status,
				Issues: []errors.Issue{{Message: errors.ErrNonEmptyNoContent.Error()}},
			}
			r.Logger.Error("response validation failed", slog.String("error", rve.Error()))
			writeErrorResponse(w, http.StatusInternalServerError, rve)
			return http.StatusInternalServerError
		}
		copyHeader(w.Header(), resp.Header)
		w.WriteHeader(http.StatusNoContent)
		return http.StatusNoContent
	}

	copyHeader(w.Header(), resp.Header)
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}

	data, marshalErr := json.Marshal(resp.Body)
	if marshalErr != nil {
		r.Logger.Error("response marshal failed", slog.String("error", marshalErr.Error()))
		writeErrorResponse(w, http.StatusInternalServerError,
			errors.WrapInternal(marshalErr, "Router", "serveStandard", "response marshal"))
		return http.StatusInternalServerError
	}

	w.WriteHeader(resp.Status)
	//nolint:errcheck // client gone; nothing to recover
	w.Write(data)
	return resp.Status
}

func copyHeader(dst, src http.Header) {
	for name, vals := range src {
		for _, v := range vals {
			dst.Add(name, v)
		}
	}
}
