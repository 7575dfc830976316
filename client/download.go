package client

import (
	"context"
	"io"
	"mime"

	"github.com/ricsam/richie-rpc-sub000/contract"
	"github.com/ricsam/richie-rpc-sub000/errors"
)

// DownloadResult is a completed file download: the raw bytes plus the
// metadata the response headers carried.
type DownloadResult struct {
	Status      int
	Filename    string
	ContentType string
	Content     []byte
}

// Download fetches a download endpoint. Success statuses return the raw
// body with the filename decoded from Content-Disposition; declared error
// statuses surface as a DeclaredError carrying the validated JSON error
// body.
func (c *Client) Download(ctx context.Context, name string, req *Request) (*DownloadResult, error) {
	ep, err := c.endpoint(name, contract.KindDownload)
	if err != nil {
		return nil, err
	}

	httpReq, err := c.buildRequest(ctx, name, ep.Method, ep, req)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, errors.WrapTransport(err, "Client", "Download", name)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.WrapTransport(err, "Client", "Download", name)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if _, declared := ep.ErrorResponses[resp.StatusCode]; declared {
			_, derr := c.decodeResponse(name, ep, resp.StatusCode, raw)
			return nil, derr
		}
		return nil, undeclaredStatusError(name, resp.StatusCode, raw)
	}

	result := &DownloadResult{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Content:     raw,
	}
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		// ParseMediaType decodes percent-encoded filenames.
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			result.Filename = params["filename"]
		}
	}
	return result, nil
}
