package store

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func newTestAssetStore(t *testing.T) *AssetStore {
	t.Helper()
	s, err := NewAssetStore(filepath.Join(t.TempDir(), ".faas"))
	if err != nil {
		t.Fatalf("NewAssetStore failed: %v", err)
	}
	return s
}

func TestAssetSaveLoadRoundTrip(t *testing.T) {
	s := newTestAssetStore(t)

	a := &FunctionAsset{
		ID:             NewV7(),
		LanguageID:     "js",
		FunctionName:   "handler",
		JSEvalAsModule: true,
		SourceCode:     "export function handler(e){return e;}",
		Dependencies:   map[string]string{"greeter": "module.exports={}"},
	}
	if err := s.Save(a); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, ok, err := s.Load(a.ID)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !ok {
		t.Fatal("expected asset to exist")
	}
	if !reflect.DeepEqual(a, got) {
		t.Errorf("round trip mismatch:\nsaved  %+v\nloaded %+v", a, got)
	}
}

func TestAssetLoadMissing(t *testing.T) {
	s := newTestAssetStore(t)
	if _, ok, err := s.Load(NewV7()); err != nil || ok {
		t.Errorf("expected absent without error, got ok=%v err=%v", ok, err)
	}
}

func TestAssetLoadRejectsPathTricks(t *testing.T) {
	s := newTestAssetStore(t)
	for _, id := range []string{"", "../escape", "a/b", `a\b`} {
		if _, ok, _ := s.Load(id); ok {
			t.Errorf("id %q must not resolve", id)
		}
	}
}

func TestAssetList(t *testing.T) {
	s := newTestAssetStore(t)
	for i := 0; i < 3; i++ {
		a := &FunctionAsset{ID: NewV7(), LanguageID: "js", FunctionName: "handler", SourceCode: "x"}
		if err := s.Save(a); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	assets, err := s.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(assets) != 3 {
		t.Errorf("expected 3 assets, got %d", len(assets))
	}
}

func TestAssetManifestStoreRoundTrip(t *testing.T) {
	s := newTestAssetStore(t)

	m, err := ParseManifest([]byte(`{
  'languageId': 'js',
  'functionName': 'greet',
  'source': 'function greet(e){return e;}',
}`))
	if err != nil {
		t.Fatalf("ParseManifest failed: %v", err)
	}
	a, err := ToAsset(".", m)
	if err != nil {
		t.Fatalf("ToAsset failed: %v", err)
	}
	if err := s.Save(a); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, ok, err := s.Load(a.ID)
	if err != nil || !ok {
		t.Fatalf("Load failed: ok=%v err=%v", ok, err)
	}
	if got.FunctionName != "greet" || got.SourceCode != "function greet(e){return e;}" {
		t.Errorf("fields lost in round trip: %+v", got)
	}
}

func TestAssetSaveWritesWholeDocuments(t *testing.T) {
	s := newTestAssetStore(t)
	a := &FunctionAsset{ID: NewV7(), LanguageID: "js", FunctionName: "handler", SourceCode: strings.Repeat("x", 4096)}
	if err := s.Save(a); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// No temp files may linger next to the document.
	entries, _ := os.ReadDir(filepath.Dir(filepath.Join(s.dir, a.ID+".json")))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("staging file %q left behind", e.Name())
		}
	}
}
