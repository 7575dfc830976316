package router

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/ricsam/richie-rpc-sub000/contract"
	"github.com/ricsam/richie-rpc-sub000/errors"
)

// Attachment is the binary payload of a successful download response.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// DownloadResponse is what a download endpoint handler returns: an
// attachment on success, or a JSON error body on a non-success status.
type DownloadResponse struct {
	Status     int
	Attachment *Attachment
	// ErrorBody is serialized as JSON for non-2xx statuses and validated
	// against the endpoint's declared error schema for that status.
	ErrorBody any
	Header    http.Header
}

// serveDownload dispatches a download endpoint: raw bytes with attachment
// headers on success, JSON error body otherwise. Returns the status written.
func (rt *Router) serveDownload(
	w http.ResponseWriter,
	req *http.Request,
	name string,
	ep contract.Endpoint,
	r *Request,
) int {
	h, ok := rt.download[name]
	if !ok {
		writeErrorResponse(w, http.StatusInternalServerError, errors.ErrHandlerMissing)
		return http.StatusInternalServerError
	}

	resp, err := func() (resp *DownloadResponse, err error) {
		defer func() {
			if p := recover(); p != nil {
				err = errors.WrapInternal(fmt.Errorf("handler panic: %v", p),
					"Router", "serveDownload", name)
			}
		}()
		return h(req.Context(), r)
	}()
	if err != nil {
		r.Logger.Error("download handler failed", slog.String("error", err.Error()))
		writeErrorResponse(w, http.StatusInternalServerError,
			errors.WrapInternal(err, "Router", "serveDownload", name))
		return http.StatusInternalServerError
	}
	if resp == nil {
		writeErrorResponse(w, http.StatusInternalServerError, errors.ErrHandlerMissing)
		return http.StatusInternalServerError
	}

	if resp.Status >= 200 && resp.Status < 300 {
		if resp.Attachment == nil {
			rve := &errors.ResponseValidationError{
				Status: resp.Status,
				Issues: []errors.Issue{{Message: "success download response requires an attachment"}},
			}
			r.Logger.Error("response validation failed", slog.String("error", rve.Error()))
			writeErrorResponse(w, http.StatusInternalServerError, rve)
			return http.StatusInternalServerError
		}

		contentType := resp.Attachment.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		copyHeader(w.Header(), resp.Header)
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(resp.Attachment.Content)))
		// FormatMediaType percent-encodes non-ASCII filenames per RFC 2231.
		w.Header().Set("Content-Disposition",
			mime.FormatMediaType("attachment", map[string]string{"filename": resp.Attachment.Filename}))
		w.WriteHeader(resp.Status)
		//nolint:errcheck // client gone; nothing to recover
		w.Write(resp.Attachment.Content)
		return resp.Status
	}

	// Non-success statuses fall back to a JSON error body validated against
	// the declared error schema for that status, if any.
	if s, declared := ep.ErrorResponses[resp.Status]; declared {
		if _, issues := s.Validate(resp.ErrorBody); len(issues) > 0 {
			rve := &errors.ResponseValidationError{Status: resp.Status, Issues: issues}
			r.Logger.Error("response validation failed", slog.String("error", rve.Error()))
			writeErrorResponse(w, http.StatusInternalServerError, rve)
			return http.StatusInternalServerError
		}
	}

	copyHeader(w.Header(), resp.Header)
	w.Header().Set("Content-Type", "application/json")
	data, marshalErr := json.Marshal(resp.ErrorBody)
	if marshalErr != nil {
		writeErrorResponse(w, http.StatusInternalServerError,
			errors.WrapInternal(marshalErr, "Router", "serveDownload", "error body marshal"))
		return http.StatusInternalServerError
	}
	w.WriteHeader(resp.Status)
	//nolint:errcheck // client gone; nothing to recover
	w.Write(data)
	return resp.Status
}
