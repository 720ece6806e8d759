package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FunctionAsset is the persisted form of an uploaded function plus its
// in-memory dependency sources.
type FunctionAsset struct {
	ID             string            `json:"id"`
	LanguageID     string            `json:"languageId"`
	FunctionName   string            `json:"functionName"`
	JSEvalAsModule bool              `json:"jsEvalAsModule,omitempty"`
	SourceCode     string            `json:"sourceCode"`
	Dependencies   map[string]string `json:"dependencies,omitempty"`
}

// DependencyNames returns the dependency names sorted for stable output.
func (a *FunctionAsset) DependencyNames() []string {
	names := make([]string, 0, len(a.Dependencies))
	for name := range a.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AssetStore persists one pretty-printed JSON document per asset under
// {base}/functions/{id}.json. Writes go through a temp file and rename so a
// concurrent reader never observes a torn document.
type AssetStore struct {
	dir string
}

func NewAssetStore(base string) (*AssetStore, error) {
	dir := filepath.Join(base, "functions")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create asset store: %w", err)
	}
	return &AssetStore{dir: dir}, nil
}

func (s *AssetStore) path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, "/\\") || strings.Contains(id, "..") {
		return "", fmt.Errorf("unusable asset id %q", id)
	}
	return filepath.Join(s.dir, id+".json"), nil
}

func (s *AssetStore) Save(a *FunctionAsset) error {
	path, err := s.path(a.ID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("encode asset %s: %w", a.ID, err)
	}
	return writeFileAtomic(path, append(data, '\n'), 0o644)
}

// Load reads one asset; ok is false when the id is unknown.
func (s *AssetStore) Load(id string) (*FunctionAsset, bool, error) {
	path, err := s.path(id)
	if err != nil {
		return nil, false, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read asset %s: %w", id, err)
	}
	var a FunctionAsset
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, false, fmt.Errorf("decode asset %s: %w", id, err)
	}
	return &a, true, nil
}

// List scans the store directory. Undecodable files are skipped rather than
// failing the whole listing.
func (s *AssetStore) List() ([]*FunctionAsset, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("scan asset store: %w", err)
	}
	var assets []*FunctionAsset
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".json")
		a, ok, err := s.Load(id)
		if err != nil || !ok {
			continue
		}
		assets = append(assets, a)
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i].ID < assets[j].ID })
	return assets, nil
}
