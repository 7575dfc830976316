// Package formcodec implements the multipart file convention: nested objects
// containing binary file fields are flattened for transport by extracting
// each file to a top-level form field keyed by its structural path and
// replacing it in a parallel JSON blob with a placeholder reference. The
// receiving side reconstructs the original nesting by substituting each
// placeholder with the corresponding form field's binary content.
//
// Example: {"documents": [{"file": <bytes>, "label": "a"}]} travels as a
// form field "documents.0.file" carrying the bytes plus one JSON field
// containing {"documents": [{"file": {"__fileRef__": "documents.0.file"},
// "label": "a"}]}.
package formcodec

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ricsam/richie-rpc-sub000/errors"
)

// RefKey is the JSON key marking a file placeholder in the flattened blob.
const RefKey = "__fileRef__"

// BlobField is the form field carrying the flattened JSON blob.
const BlobField = "__json__"

// File is one binary file field inside a nested value.
type File struct {
	Name        string
	ContentType string
	Content     []byte
}

// Flatten walks value, replaces every *File with a placeholder reference,
// and returns the JSON blob plus the extracted files keyed by structural
// path. Paths join object keys and array indices with dots.
func Flatten(value any) ([]byte, map[string]*File, error) {
	files := make(map[string]*File)
	replaced, err := flattenNode(value, "", files)
	if err != nil {
		return nil, nil, err
	}
	blob, err := json.Marshal(replaced)
	if err != nil {
		return nil, nil, errors.WrapInvalid(err, "formcodec", "Flatten", "blob marshal")
	}
	return blob, files, nil
}

func flattenNode(node any, path string, files map[string]*File) (any, error) {
	switch v := node.(type) {
	case *File:
		if v == nil {
			return nil, nil
		}
		if _, exists := files[path]; exists {
			return nil, errors.WrapInvalid(fmt.Errorf("duplicate file path %q", path),
				"formcodec", "Flatten", "path collision")
		}
		files[path] = v
		return map[string]any{RefKey: path}, nil
	case File:
		return flattenNode(&v, path, files)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, child := range v {
			replaced, err := flattenNode(child, joinPath(path, key), files)
			if err != nil {
				return nil, err
			}
			out[key] = replaced
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			replaced, err := flattenNode(child, joinPath(path, strconv.Itoa(i)), files)
			if err != nil {
				return nil, err
			}
			out[i] = replaced
		}
		return out, nil
	default:
		return node, nil
	}
}

// Reconstruct parses a flattened blob and substitutes every placeholder with
// its file from the lookup map. A placeholder referencing a missing file is
// an error; extra files are ignored.
func Reconstruct(blob []byte, files map[string]*File) (any, error) {
	var parsed any
	if err := json.Unmarshal(blob, &parsed); err != nil {
		return nil, errors.WrapInvalid(err, "formcodec", "Reconstruct", "blob parse")
	}
	return reconstructNode(parsed, files)
}

func reconstructNode(node any, files map[string]*File) (any, error) {
	switch v := node.(type) {
	case map[string]any:
		if ref, ok := refOf(v); ok {
			file, exists := files[ref]
			if !exists {
				return nil, errors.WrapInvalid(fmt.Errorf("file reference %q has no form field", ref),
					"formcodec", "Reconstruct", "dangling reference")
			}
			return file, nil
		}
		out := make(map[string]any, len(v))
		for key, child := range v {
			replaced, err := reconstructNode(child, files)
			if err != nil {
				return nil, err
			}
			out[key] = replaced
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			replaced, err := reconstructNode(child, files)
			if err != nil {
				return nil, err
			}
			out[i] = replaced
		}
		return out, nil
	default:
		return node, nil
	}
}

// refOf reports whether a map is exactly a file placeholder.
func refOf(m map[string]any) (string, bool) {
	if len(m) != 1 {
		return "", false
	}
	ref, ok := m[RefKey].(string)
	return ref, ok
}

// HasFiles reports whether value contains at least one *File anywhere in its
// nesting. The client uses this to decide between a JSON body and a
// multipart body.
func HasFiles(value any) bool {
	switch v := value.(type) {
	case *File, File:
		return true
	case map[string]any:
		for _, child := range v {
			if HasFiles(child) {
				return true
			}
		}
	case []any:
		for _, child := range v {
			if HasFiles(child) {
				return true
			}
		}
	}
	return false
}

func joinPath(path, segment string) string {
	if path == "" {
		return segment
	}
	return path + "." + segment
}
