package httpapi

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/geoffsee/polyfaas/executor"
	"github.com/geoffsee/polyfaas/language/javascript"
	"github.com/geoffsee/polyfaas/store"
)

func newTestServer(t *testing.T) *gin.Engine {
	t.Helper()
	base := t.TempDir()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	assets, err := store.NewAssetStore(base)
	if err != nil {
		t.Fatalf("asset store: %v", err)
	}
	resources, err := store.NewResourceStore(base, log)
	if err != nil {
		t.Fatalf("resource store: %v", err)
	}
	engine := executor.NewEngine(nil, log, javascript.New())
	return New(assets, resources, engine, log, base).Router()
}

func do(t *testing.T, r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func TestHealth(t *testing.T) {
	r := newTestServer(t)
	w := do(t, r, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK || w.Body.String() != "OK" {
		t.Errorf("expected 200 OK, got %d %q", w.Code, w.Body.String())
	}
}

func TestUploadAndInvokeJS(t *testing.T) {
	r := newTestServer(t)

	w := do(t, r, http.MethodPost, "/functions", `{
  "languageId": "js",
  "functionName": "handler",
  "source": "function handler(event){return {message: \"Hello, \" + event.name + \"!\"};}"
}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("upload failed: %d %s", w.Code, w.Body.String())
	}
	created := decode(t, w)
	id := created["id"].(string)
	if created["languageId"] != "js" || created["functionName"] != "handler" {
		t.Errorf("unexpected upload response: %v", created)
	}

	w = do(t, r, http.MethodPost, "/invoke/"+id, `{"name":"World"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("invoke failed: %d %s", w.Code, w.Body.String())
	}
	if got := decode(t, w); got["message"] != "Hello, World!" {
		t.Errorf("unexpected result: %v", got)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("expected JSON content type, got %q", ct)
	}
}

func TestUploadAndInvokeModule(t *testing.T) {
	r := newTestServer(t)

	w := do(t, r, http.MethodPost, "/functions", `{
  "languageId": "js",
  "jsEvalAsModule": true,
  "source": "export function handler(event){return {message: \"Hello, \" + event.name + \"!\"};}"
}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("upload failed: %d %s", w.Code, w.Body.String())
	}
	id := decode(t, w)["id"].(string)

	w = do(t, r, http.MethodPost, "/invoke/"+id, `{"name":"World"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("invoke failed: %d %s", w.Code, w.Body.String())
	}
	if got := decode(t, w); got["message"] != "Hello, World!" {
		t.Errorf("unexpected result: %v", got)
	}
}

func TestUploadAndInvokeWithDependency(t *testing.T) {
	r := newTestServer(t)

	w := do(t, r, http.MethodPost, "/functions", `{
  "languageId": "js",
  "source": "const {greet}=require('greeter'); function handler(e){return {message:greet(e.name)};}",
  "dependencies": {
    "greeter": {"source": "module.exports={greet:n=>\"Hello, \"+n+\"!\"}"}
  }
}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("upload failed: %d %s", w.Code, w.Body.String())
	}
	created := decode(t, w)
	deps := created["dependencies"].([]any)
	if len(deps) != 1 || deps[0] != "greeter" {
		t.Errorf("expected dependency names in response, got %v", deps)
	}

	w = do(t, r, http.MethodPost, "/invoke/"+created["id"].(string), `{"name":"DepUser"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("invoke failed: %d %s", w.Code, w.Body.String())
	}
	if got := decode(t, w); got["message"] != "Hello, DepUser!" {
		t.Errorf("unexpected result: %v", got)
	}
}

func TestUploadRejectsBadManifests(t *testing.T) {
	r := newTestServer(t)
	tests := []struct {
		name string
		body string
	}{
		{"unknown language", `{"languageId":"cobol","source":"x"}`},
		{"missing source", `{"languageId":"js"}`},
		{"both sources", `{"languageId":"js","source":"x","sourceFile":"y.js"}`},
		{"malformed", `{{{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(t, r, http.MethodPost, "/functions", tt.body); w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestInvokeUnknownFunction(t *testing.T) {
	r := newTestServer(t)
	w := do(t, r, http.MethodPost, "/invoke/"+store.NewV7(), `{}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestInvokeToleratesBadBody(t *testing.T) {
	r := newTestServer(t)
	// Every invocation carries the injected platform handle, so only the
	// keys parsed from the body are counted.
	w := do(t, r, http.MethodPost, "/functions",
		`{"languageId":"js","source":"function handler(e){return {empty: Object.keys(e).filter(function(k){return k !== 'platform';}).length === 0};}"}`)
	id := decode(t, w)["id"].(string)

	for _, body := range []string{"", "not json at all"} {
		w = do(t, r, http.MethodPost, "/invoke/"+id, body)
		if w.Code != http.StatusOK {
			t.Fatalf("invoke with body %q failed: %d %s", body, w.Code, w.Body.String())
		}
		if got := decode(t, w); got["empty"] != true {
			t.Errorf("expected empty event for body %q, got %v", body, got)
		}
	}
}

func TestGuestFailureIs500(t *testing.T) {
	r := newTestServer(t)
	w := do(t, r, http.MethodPost, "/functions",
		`{"languageId":"js","source":"function handler(e){throw new Error('boom');}"}`)
	id := decode(t, w)["id"].(string)

	w = do(t, r, http.MethodPost, "/invoke/"+id, `{}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if got := decode(t, w); got["error"] == nil {
		t.Errorf("expected error body, got %v", got)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	r := newTestServer(t)
	if w := do(t, r, http.MethodDelete, "/functions", ""); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", w.Code)
	}
	if w := do(t, r, http.MethodGet, "/invoke/abc", ""); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", w.Code)
	}
}

func TestInvokeMissingID(t *testing.T) {
	r := newTestServer(t)
	if w := do(t, r, http.MethodPost, "/invoke", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestListFunctions(t *testing.T) {
	r := newTestServer(t)
	do(t, r, http.MethodPost, "/functions", `{"languageId":"js","source":"function handler(e){return 1;}"}`)
	do(t, r, http.MethodPost, "/functions", `{"languageId":"js","source":"function handler(e){return 2;}"}`)

	w := do(t, r, http.MethodGet, "/functions", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list failed: %d", w.Code)
	}
	var list []map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("expected 2 functions, got %d", len(list))
	}
	for _, entry := range list {
		if entry["id"] == "" || entry["languageId"] != "js" {
			t.Errorf("unexpected entry: %v", entry)
		}
	}
}

func TestResourceLifecycleAndKVRoundTrip(t *testing.T) {
	r := newTestServer(t)

	w := do(t, r, http.MethodPost, "/functions", `{
  "languageId": "js",
  "source": "function handler(event){event.platform.kv.put('foo','bar'); return {foo: String(event.platform.kv.get('foo'))};}"
}`)
	fnID := decode(t, w)["id"].(string)

	w = do(t, r, http.MethodPost, "/resources", `{"type":"kv","owners":["`+fnID+`"]}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create resource failed: %d %s", w.Code, w.Body.String())
	}
	created := decode(t, w)
	if created["type"] != "kv" {
		t.Errorf("unexpected resource: %v", created)
	}

	w = do(t, r, http.MethodPost, "/invoke/"+fnID, `{}`)
	if w.Code != http.StatusOK {
		t.Fatalf("invoke failed: %d %s", w.Code, w.Body.String())
	}
	if got := decode(t, w); got["foo"] != "bar" {
		t.Errorf("expected kv round trip, got %v", got)
	}
}

func TestAttachOwner(t *testing.T) {
	r := newTestServer(t)

	w := do(t, r, http.MethodPost, "/resources", `{"type":"kv"}`)
	resID := decode(t, w)["id"].(string)

	w = do(t, r, http.MethodPost, "/resources/"+resID+"/owners", `{"functionId":"fn-123"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("attach failed: %d %s", w.Code, w.Body.String())
	}
	owners := decode(t, w)["owners"].([]any)
	if len(owners) != 1 || owners[0] != "fn-123" {
		t.Errorf("unexpected owners: %v", owners)
	}

	w = do(t, r, http.MethodPost, "/resources/"+store.NewV7()+"/owners", `{"functionId":"fn-123"}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown resource, got %d", w.Code)
	}

	w = do(t, r, http.MethodPost, "/resources/"+resID+"/owners", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing functionId, got %d", w.Code)
	}

	w = do(t, r, http.MethodGet, "/resources", "")
	var list []map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("expected 1 resource, got %d", len(list))
	}
}
