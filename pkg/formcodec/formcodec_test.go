package formcodec

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nestedUpload() map[string]any {
	return map[string]any{
		"title": "quarterly report",
		"documents": []any{
			map[string]any{
				"label": "summary",
				"file":  &File{Name: "summary.pdf", ContentType: "application/pdf", Content: []byte("pdf-bytes")},
			},
			map[string]any{
				"label": "raw data",
				"file":  &File{Name: "data.csv", ContentType: "text/csv", Content: []byte("a,b\n1,2\n")},
			},
		},
		"meta": map[string]any{
			"pages": float64(12),
		},
	}
}

func TestFlatten_ExtractsFilesByStructuralPath(t *testing.T) {
	blob, files, err := Flatten(nestedUpload())
	require.NoError(t, err)

	require.Len(t, files, 2)
	assert.Equal(t, "summary.pdf", files["documents.0.file"].Name)
	assert.Equal(t, "data.csv", files["documents.1.file"].Name)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(blob, &parsed))

	docs := parsed["documents"].([]any)
	first := docs[0].(map[string]any)["file"].(map[string]any)
	assert.Equal(t, map[string]any{RefKey: "documents.0.file"}, first)
}

func TestReconstruct_SubstitutesFiles(t *testing.T) {
	blob := []byte(`{"avatar": {"__fileRef__": "avatar"}, "name": "alice"}`)
	files := map[string]*File{
		"avatar": {Name: "a.png", ContentType: "image/png", Content: []byte{0x89, 0x50}},
	}

	value, err := Reconstruct(blob, files)
	require.NoError(t, err)

	m := value.(map[string]any)
	assert.Equal(t, "alice", m["name"])
	require.IsType(t, (*File)(nil), m["avatar"])
	assert.Equal(t, "a.png", m["avatar"].(*File).Name)
}

func TestReconstruct_DanglingReference(t *testing.T) {
	blob := []byte(`{"file": {"__fileRef__": "missing"}}`)
	_, err := Reconstruct(blob, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestRoundTrip_MultipartStructuralIdentity(t *testing.T) {
	original := nestedUpload()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, Encode(w, original))
	require.NoError(t, w.Close())

	reader := multipart.NewReader(&buf, w.Boundary())
	form, err := reader.ReadForm(1 << 20)
	require.NoError(t, err)
	defer form.RemoveAll()

	value, err := Decode(form)
	require.NoError(t, err)

	if diff := cmp.Diff(original, value); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDecode_MissingBlobField(t *testing.T) {
	form := &multipart.Form{Value: map[string][]string{}, File: nil}
	_, err := Decode(form)
	require.Error(t, err)
}

func TestHasFiles(t *testing.T) {
	assert.True(t, HasFiles(nestedUpload()))
	assert.True(t, HasFiles(&File{Name: "x"}))
	assert.False(t, HasFiles(map[string]any{"a": []any{"b", float64(1)}}))
	assert.False(t, HasFiles("plain"))
	assert.False(t, HasFiles(nil))
}

func TestFlatten_NoFilesIsPlainJSON(t *testing.T) {
	blob, files, err := Flatten(map[string]any{"k": "v"})
	require.NoError(t, err)
	assert.Empty(t, files)
	assert.JSONEq(t, `{"k":"v"}`, string(blob))
}
