package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/geoffsee/polyfaas/hostfunc"
)

// ErrResourceNotFound is returned for unknown resource ids.
var ErrResourceNotFound = errors.New("resource not found")

// ResourceRecord is the persisted form of a bindable resource. Owners is the
// set of function ids permitted to bind it; the exposed API may extend the
// set but never shrink it.
type ResourceRecord struct {
	ID     string            `json:"id"`
	Type   string            `json:"type"`
	Owners []string          `json:"owners"`
	Config map[string]string `json:"config,omitempty"`
}

// ResourceStore persists resource records under {base}/resources/{id}.json
// and maintains an in-memory ownership index (function id -> resource ids).
// Runtime handles for kv resources are created lazily and live for the
// process lifetime only.
type ResourceStore struct {
	dir string
	log *slog.Logger

	mu       sync.Mutex
	owned    map[string]map[string]struct{}
	runtimes map[string]*hostfunc.KVStore
}

func NewResourceStore(base string, log *slog.Logger) (*ResourceStore, error) {
	if log == nil {
		log = slog.Default()
	}
	dir := filepath.Join(base, "resources")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create resource store: %w", err)
	}
	s := &ResourceStore{
		dir:      dir,
		log:      log,
		owned:    make(map[string]map[string]struct{}),
		runtimes: make(map[string]*hostfunc.KVStore),
	}
	if err := s.rebuildIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ResourceStore) rebuildIndex() error {
	records, err := s.scan()
	if err != nil {
		return err
	}
	for _, r := range records {
		for _, fn := range r.Owners {
			s.indexLocked(fn, r.ID)
		}
	}
	return nil
}

func (s *ResourceStore) indexLocked(fnID, resID string) {
	set, ok := s.owned[fnID]
	if !ok {
		set = make(map[string]struct{})
		s.owned[fnID] = set
	}
	set[resID] = struct{}{}
}

// Create mints an id, persists the record, and registers ownership. A kv
// resource gets its in-memory runtime on first binding, not here.
func (s *ResourceStore) Create(typ string, owners []string, config map[string]string) (*ResourceRecord, error) {
	if typ == "" {
		return nil, errors.New("resource type required")
	}
	r := &ResourceRecord{
		ID:     NewV7(),
		Type:   typ,
		Owners: dedupe(owners),
		Config: config,
	}
	if r.Owners == nil {
		r.Owners = []string{}
	}
	if err := s.save(r); err != nil {
		return nil, err
	}

	s.mu.Lock()
	for _, fn := range r.Owners {
		s.indexLocked(fn, r.ID)
	}
	s.mu.Unlock()

	s.log.Info("resource created", "id", r.ID, "type", r.Type, "owners", len(r.Owners))
	return r, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	var out []string
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (s *ResourceStore) path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, "/\\") || strings.Contains(id, "..") {
		return "", fmt.Errorf("%w: %q", ErrResourceNotFound, id)
	}
	return filepath.Join(s.dir, id+".json"), nil
}

func (s *ResourceStore) save(r *ResourceRecord) error {
	path, err := s.path(r.ID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode resource %s: %w", r.ID, err)
	}
	return writeFileAtomic(path, append(data, '\n'), 0o644)
}

func (s *ResourceStore) Get(id string) (*ResourceRecord, error) {
	path, err := s.path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read resource %s: %w", id, err)
	}
	var r ResourceRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode resource %s: %w", id, err)
	}
	return &r, nil
}

func (s *ResourceStore) scan() ([]*ResourceRecord, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("scan resource store: %w", err)
	}
	var records []*ResourceRecord
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		r, err := s.Get(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			continue
		}
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

func (s *ResourceStore) List() ([]*ResourceRecord, error) {
	return s.scan()
}

// AttachOwner rewrites the record with owners extended by fnID and updates
// the index. Rewrites are serialized by the store lock.
func (s *ResourceStore) AttachOwner(resID, fnID string) (*ResourceRecord, error) {
	if fnID == "" {
		return nil, errors.New("functionId required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.Get(resID)
	if err != nil {
		return nil, err
	}
	for _, owner := range r.Owners {
		if owner == fnID {
			return r, nil
		}
	}
	r.Owners = append(r.Owners, fnID)
	if err := s.save(r); err != nil {
		return nil, err
	}
	s.indexLocked(fnID, resID)
	return r, nil
}

// kvRuntime returns the process-lifetime store for a kv resource, creating
// it on first use.
func (s *ResourceStore) kvRuntime(resID string) *hostfunc.KVStore {
	if kv, ok := s.runtimes[resID]; ok {
		return kv
	}
	kv := hostfunc.NewKVStore()
	s.runtimes[resID] = kv
	return kv
}

// PlatformForFunction assembles the platform handle for one function: all
// owned resources grouped by type, a KvApi over the first owned kv store,
// and the SqlApi placeholder. Resource ids are UUIDv7, so sorting them picks
// the earliest-created store as the default. When the index is empty (a
// fresh process) ownership is recovered by directory scan.
func (s *ResourceStore) PlatformForFunction(fnID string) (*hostfunc.Platform, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, ok := s.owned[fnID]
	if !ok || len(ids) == 0 {
		records, err := s.scan()
		if err != nil {
			return nil, err
		}
		for _, r := range records {
			for _, owner := range r.Owners {
				if owner == fnID {
					s.indexLocked(fnID, r.ID)
				}
			}
		}
		ids = s.owned[fnID]
	}

	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	platform := &hostfunc.Platform{SQL: &hostfunc.SqlApi{}}
	for _, id := range sorted {
		r, err := s.Get(id)
		if err != nil {
			continue
		}
		if r.Type == "kv" && platform.KV == nil {
			platform.KV = hostfunc.NewKvApi(s.kvRuntime(id))
		}
	}
	return platform, nil
}
