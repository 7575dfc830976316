package formcodec

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"strings"

	"github.com/ricsam/richie-rpc-sub000/errors"
)

// Encode writes value to a multipart writer: one JSON blob field plus one
// binary part per extracted file, keyed by structural path. The writer is
// not closed; the caller owns its lifecycle.
func Encode(w *multipart.Writer, value any) error {
	blob, files, err := Flatten(value)
	if err != nil {
		return err
	}
	if err := w.WriteField(BlobField, string(blob)); err != nil {
		return errors.WrapTransport(err, "formcodec", "Encode", "blob field write")
	}
	for path, file := range files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`,
			escapeQuotes(path), escapeQuotes(file.Name)))
		contentType := file.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		header.Set("Content-Type", contentType)

		part, err := w.CreatePart(header)
		if err != nil {
			return errors.WrapTransport(err, "formcodec", "Encode", "file part create")
		}
		if _, err := part.Write(file.Content); err != nil {
			return errors.WrapTransport(err, "formcodec", "Encode", "file part write")
		}
	}
	return nil
}

// Decode reconstructs the original nested value from a parsed multipart form.
func Decode(form *multipart.Form) (any, error) {
	blobs, ok := form.Value[BlobField]
	if !ok || len(blobs) == 0 {
		return nil, errors.WrapInvalid(fmt.Errorf("missing %s field", BlobField),
			"formcodec", "Decode", "blob lookup")
	}

	files := make(map[string]*File)
	for path, headers := range form.File {
		if len(headers) == 0 {
			continue
		}
		fh := headers[0]
		reader, err := fh.Open()
		if err != nil {
			return nil, errors.WrapInvalid(err, "formcodec", "Decode", "file open")
		}
		content, err := io.ReadAll(reader)
		closeErr := reader.Close()
		if err != nil {
			return nil, errors.WrapInvalid(err, "formcodec", "Decode", "file read")
		}
		if closeErr != nil {
			return nil, errors.WrapInvalid(closeErr, "formcodec", "Decode", "file close")
		}
		files[path] = &File{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Content:     content,
		}
	}

	return Reconstruct([]byte(blobs[0]), files)
}

func escapeQuotes(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}
