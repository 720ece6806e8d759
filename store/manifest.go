package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
)

// ErrInvalidManifest is matched by errors.Is for every manifest rejection.
var ErrInvalidManifest = errors.New("invalid manifest")

// UploadManifest is the ingestion shape for function uploads. Exactly one of
// Source and SourceFile must be set; dependencies likewise carry either
// inline source or a file reference. Unknown properties are ignored.
type UploadManifest struct {
	ID             string                    `json:"id"`
	LanguageID     string                    `json:"languageId"`
	FunctionName   string                    `json:"functionName"`
	JSEvalAsModule bool                      `json:"jsEvalAsModule"`
	Source         string                    `json:"source"`
	SourceFile     string                    `json:"sourceFile"`
	Dependencies   map[string]DependencySpec `json:"dependencies"`
}

type DependencySpec struct {
	Source string `json:"source"`
	File   string `json:"file"`
}

// ParseManifest decodes a manifest document. The format is JSON extended with
// C and YAML style comments, trailing commas, and single-quoted strings.
func ParseManifest(data []byte) (*UploadManifest, error) {
	normalized := jsonc.ToJSON(normalizeQuirks(data))
	var m UploadManifest
	if err := json.Unmarshal(normalized, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	return &m, nil
}

// normalizeQuirks rewrites the two extensions the JSONC pass does not cover:
// single-quoted strings become double-quoted, and '#' comments are blanked to
// end of line. Double-quoted strings pass through untouched.
func normalizeQuirks(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		c := data[i]
		switch c {
		case '"':
			// Copy the string verbatim including escapes.
			out = append(out, c)
			for i++; i < len(data); i++ {
				out = append(out, data[i])
				if data[i] == '\\' && i+1 < len(data) {
					i++
					out = append(out, data[i])
					continue
				}
				if data[i] == '"' {
					break
				}
			}
		case '\'':
			out = append(out, '"')
			closed := false
			for i++; i < len(data) && !closed; i++ {
				switch data[i] {
				case '\\':
					if i+1 < len(data) && data[i+1] == '\'' {
						out = append(out, '\'')
						i++
					} else {
						out = append(out, data[i])
						if i+1 < len(data) {
							i++
							out = append(out, data[i])
						}
					}
				case '\'':
					out = append(out, '"')
					closed = true
				case '"':
					out = append(out, '\\', '"')
				default:
					out = append(out, data[i])
				}
			}
			i--
		case '#':
			for i < len(data) && data[i] != '\n' {
				i++
			}
			if i < len(data) {
				out = append(out, '\n')
			}
		case '/':
			// Leave C-style comments for the JSONC pass.
			out = append(out, c)
		default:
			out = append(out, c)
		}
	}
	return out
}

// ReadManifest loads and decodes a manifest file.
func ReadManifest(path string) (*UploadManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return ParseManifest(data)
}

// ToAsset resolves a manifest into a persistable asset. Source and
// dependency files are resolved relative to cwd; a missing id is minted.
func ToAsset(cwd string, m *UploadManifest) (*FunctionAsset, error) {
	if m.LanguageID == "" {
		return nil, fmt.Errorf("%w: languageId required", ErrInvalidManifest)
	}
	if (m.Source == "") == (m.SourceFile == "") {
		return nil, fmt.Errorf("%w: exactly one of source and sourceFile required", ErrInvalidManifest)
	}

	source := m.Source
	if m.SourceFile != "" {
		text, err := resolveFile(cwd, m.SourceFile)
		if err != nil {
			return nil, err
		}
		source = text
	}
	if strings.TrimSpace(source) == "" {
		return nil, fmt.Errorf("%w: source is empty", ErrInvalidManifest)
	}

	var deps map[string]string
	if len(m.Dependencies) > 0 {
		deps = make(map[string]string, len(m.Dependencies))
		for name, spec := range m.Dependencies {
			switch {
			case spec.Source != "":
				deps[name] = spec.Source
			case spec.File != "":
				text, err := resolveFile(cwd, spec.File)
				if err != nil {
					return nil, err
				}
				deps[name] = text
			default:
				return nil, fmt.Errorf("%w: dependency %q has neither source nor file", ErrInvalidManifest, name)
			}
		}
	}

	id := m.ID
	if id == "" {
		id = NewV7()
	}
	name := m.FunctionName
	if name == "" {
		name = "handler"
	}

	return &FunctionAsset{
		ID:             id,
		LanguageID:     m.LanguageID,
		FunctionName:   name,
		JSEvalAsModule: m.JSEvalAsModule,
		SourceCode:     source,
		Dependencies:   deps,
	}, nil
}

func resolveFile(cwd, ref string) (string, error) {
	path := ref
	if !filepath.IsAbs(path) {
		path = filepath.Join(cwd, ref)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: resolve %q: %v", ErrInvalidManifest, ref, err)
	}
	return string(data), nil
}
