package router

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ricsam/richie-rpc-sub000/contract"
	"github.com/ricsam/richie-rpc-sub000/schema"
)

func downloadContract(t *testing.T) *contract.Contract {
	t.Helper()
	errSchema := schema.MustJSON(`{
		"type": "object",
		"properties": {"error": {"type": "string"}, "message": {"type": "string"}},
		"required": ["error", "message"]
	}`)
	c, err := contract.New(contract.Entry{Name: "getReport", Endpoint: contract.Endpoint{
		Kind:           contract.KindDownload,
		Method:         "GET",
		Path:           "/reports/:id",
		ErrorResponses: map[int]schema.Schema{404: errSchema},
	}})
	require.NoError(t, err)
	return c
}

func TestDownload_SuccessServesRawBytes(t *testing.T) {
	rt := New(downloadContract(t))
	content := []byte{0x25, 0x50, 0x44, 0x46} // %PDF
	require.NoError(t, rt.Download("getReport", func(_ context.Context, _ *Request) (*DownloadResponse, error) {
		return &DownloadResponse{
			Status: 200,
			Attachment: &Attachment{
				Filename:    "report.pdf",
				ContentType: "application/pdf",
				Content:     content,
			},
		}, nil
	}))

	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, httptest.NewRequest("GET", "/reports/7", nil))

	require.Equal(t, 200, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, "4", rec.Header().Get("Content-Length"))
	assert.Equal(t, `attachment; filename=report.pdf`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, content, rec.Body.Bytes())
}

func TestDownload_NonASCIIFilenameIsPercentEncoded(t *testing.T) {
	rt := New(downloadContract(t))
	require.NoError(t, rt.Download("getReport", func(_ context.Context, _ *Request) (*DownloadResponse, error) {
		return &DownloadResponse{
			Status:     200,
			Attachment: &Attachment{Filename: "résumé.pdf", Content: []byte("x")},
		}, nil
	}))

	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, httptest.NewRequest("GET", "/reports/7", nil))

	disposition := rec.Header().Get("Content-Disposition")
	assert.Contains(t, disposition, "attachment")
	assert.Contains(t, disposition, "utf-8''")
	assert.NotContains(t, disposition, "é")
}

func TestDownload_DeclaredErrorFallsBackToJSON(t *testing.T) {
	rt := New(downloadContract(t))
	require.NoError(t, rt.Download("getReport", func(_ context.Context, _ *Request) (*DownloadResponse, error) {
		return &DownloadResponse{
			Status:    404,
			ErrorBody: map[string]any{"error": "not_found", "message": "no such report"},
		}, nil
	}))

	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, httptest.NewRequest("GET", "/reports/7", nil))

	require.Equal(t, 404, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error": "not_found", "message": "no such report"}`, rec.Body.String())
}

func TestDownload_InvalidErrorBodyIsContractViolation(t *testing.T) {
	rt := New(downloadContract(t))
	require.NoError(t, rt.Download("getReport", func(_ context.Context, _ *Request) (*DownloadResponse, error) {
		return &DownloadResponse{Status: 404, ErrorBody: map[string]any{"wrong": true}}, nil
	}))

	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, httptest.NewRequest("GET", "/reports/7", nil))

	require.Equal(t, 500, rec.Code)
	assert.Contains(t, rec.Body.String(), "Response Validation Failed")
}

func TestDownload_SuccessWithoutAttachmentIsContractViolation(t *testing.T) {
	rt := New(downloadContract(t))
	require.NoError(t, rt.Download("getReport", func(_ context.Context, _ *Request) (*DownloadResponse, error) {
		return &DownloadResponse{Status: 200}, nil
	}))

	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, httptest.NewRequest("GET", "/reports/7", nil))
	assert.Equal(t, 500, rec.Code)
}
