package executor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// File is one uploaded input staged into the invocation's temp directory.
type File struct {
	Name        string
	ContentType string
	Content     []byte
}

const maxFileNameLen = 255

// sanitizeFileName makes an upload name safe to place in the staging
// directory: path separators become underscores, surrounding space is
// trimmed, an empty result falls back to "file.bin", and the length is
// capped.
func sanitizeFileName(name string) string {
	name = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	name = strings.TrimLeft(name, ".")
	if name == "" {
		name = "file.bin"
	}
	if len(name) > maxFileNameLen {
		name = name[:maxFileNameLen]
	}
	return name
}

// stageFiles writes the uploads into a fresh temp directory and returns the
// directory plus the metadata entries appended to the event under "files".
func stageFiles(files []File) (string, []any, error) {
	dir, err := os.MkdirTemp("", "faas-inv-")
	if err != nil {
		return "", nil, fmt.Errorf("stage files: %w", err)
	}

	meta := make([]any, 0, len(files))
	for _, f := range files {
		name := sanitizeFileName(f.Name)
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, f.Content, 0o644); err != nil {
			os.RemoveAll(dir)
			return "", nil, fmt.Errorf("stage file %q: %w", name, err)
		}
		meta = append(meta, map[string]any{
			"name":        name,
			"contentType": f.ContentType,
			"path":        path,
			"size":        len(f.Content),
		})
	}
	return dir, meta, nil
}
