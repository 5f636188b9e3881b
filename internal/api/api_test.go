package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/starford/tagdex/internal/docstore"
	"github.com/starford/tagdex/internal/models"
	"github.com/starford/tagdex/internal/planner"
	"github.com/starford/tagdex/internal/service"
	"github.com/starford/tagdex/internal/testutil"
	"github.com/starford/tagdex/internal/usage"
)

// testEnv seeds a temp SQLite store with 60 documents and builds the router.
// An empty authToken means disabled mode.
func testEnv(t *testing.T, authToken string) (*docstore.DB, http.Handler) {
	t.Helper()
	return testEnvWithSSE(t, authToken != "", authToken, nil)
}

func testEnvWithSSE(t *testing.T, authEnabled bool, token string, sseHandler http.Handler) (*docstore.DB, http.Handler) {
	t.Helper()

	db := testutil.TestDB(t)
	testutil.Seed(t, db, 60, func(i int) map[string]any {
		body := map[string]any{"3": map[string]any{"7": i}}
		if i%20 == 0 {
			body["5"] = map[string]any{"7": i}
		}
		return body
	})
	dict := testutil.TestDictionary(t, db, testutil.GeoTags())
	svc := service.New(db, dict, slog.New(slog.NewTextHandler(io.Discard, nil)),
		service.WithSettings(service.Settings{ScanWindow: 16, RecommitWindow: 16, MinimumCount: 10}),
	)
	return db, NewRouter(svc, authEnabled, token, sseHandler)
}

func do(t *testing.T, router http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, rd)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestListAndGetTags(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/tags", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var list TagListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &list)
	if len(list.Tags) != 4 {
		t.Fatalf("tags = %d, want 4", len(list.Tags))
	}

	for _, token := range []string{"geo:name", "geo%3Aname", "@7"} {
		w = do(t, router, http.MethodGet, "/tags/"+token, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("get %s status = %d, body = %s", token, w.Code, w.Body.String())
		}
		var tag TagDetail
		_ = json.Unmarshal(w.Body.Bytes(), &tag)
		if tag.Serial != 7 {
			t.Errorf("get %s serial = %d, want 7", token, tag.Serial)
		}
	}
}

func TestPutTag(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/tags", PutTagRequest{Serial: 11, Identifier: "geo:district"})
	if w.Code != http.StatusOK {
		t.Fatalf("put status = %d, body = %s", w.Code, w.Body.String())
	}
	w = do(t, router, http.MethodGet, "/tags/@11", nil)
	if w.Code != http.StatusOK {
		t.Errorf("get new tag = %d", w.Code)
	}

	w = do(t, router, http.MethodPost, "/tags", PutTagRequest{Serial: 12, Identifier: "geo:district"})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate identifier = %d, want 409", w.Code)
	}
	w = do(t, router, http.MethodPost, "/tags", PutTagRequest{Identifier: "geo:x"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing serial = %d, want 400", w.Code)
	}
}

func TestGetTag_NotFound(t *testing.T) {
	_, router := testEnv(t, "")

	for _, token := range []string{"geo:missing", "@99", "@x"} {
		w := do(t, router, http.MethodGet, "/tags/"+token, nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("get %s = %d, want 404", token, w.Code)
		}
	}
}

func TestScanThenPlanAndReconcile(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/scan", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("scan status = %d, body = %s", w.Code, w.Body.String())
	}
	var rep usage.Report
	_ = json.Unmarshal(w.Body.Bytes(), &rep)
	if rep.Documents != 60 || rep.Batches != 4 {
		t.Errorf("scan report = %+v", rep)
	}

	w = do(t, router, http.MethodGet, "/tags/@7/plan", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("plan status = %d", w.Code)
	}
	var plan PlanResponse
	_ = json.Unmarshal(w.Body.Bytes(), &plan)
	if len(plan.Indexes) != 1 || plan.Indexes[0].OffsetPath != "3.7" {
		t.Errorf("plan = %+v, want only 3.7", plan.Indexes)
	}

	w = do(t, router, http.MethodGet, "/tags/@7/plan?minimum_count=1", nil)
	_ = json.Unmarshal(w.Body.Bytes(), &plan)
	if len(plan.Indexes) != 2 {
		t.Errorf("plan with minimum_count=1 = %d indexes, want 2", len(plan.Indexes))
	}

	w = do(t, router, http.MethodPost, "/tags/@7/reconcile", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("reconcile status = %d", w.Code)
	}
	var res planner.Result
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	if len(res.Created) != 1 || res.Created[0] != "tagdex_off_3_7" {
		t.Errorf("created = %v", res.Created)
	}

	w = do(t, router, http.MethodGet, "/indexes", nil)
	var idx PlanResponse
	_ = json.Unmarshal(w.Body.Bytes(), &idx)
	found := false
	for _, s := range idx.Indexes {
		if s.Name == "tagdex_off_3_7" && s.OffsetPath == "3.7" && s.Sparse {
			found = true
		}
	}
	if !found {
		t.Errorf("indexes = %+v, want tagdex_off_3_7", idx.Indexes)
	}
}

func TestPlan_BadMinimumCount(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/tags/@7/plan?minimum_count=-3", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("negative minimum_count = %d, want 400", w.Code)
	}
}

func TestDescribeOffset(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/offsets/3.7", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("describe status = %d", w.Code)
	}
	var off OffsetResponse
	_ = json.Unmarshal(w.Body.Bytes(), &off)
	if off.Description != "geo:city > geo:name" {
		t.Errorf("description = %q", off.Description)
	}

	w = do(t, router, http.MethodGet, "/offsets/3..7", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed path = %d, want 400", w.Code)
	}
}

func TestRecommitAndCheckpoint(t *testing.T) {
	db, router := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/recommit", RecommitRequest{RunID: "api-run"})
	if w.Code != http.StatusOK {
		t.Fatalf("recommit status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp RecommitResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Runs) != 1 || resp.Runs[0].Processed != 60 {
		t.Fatalf("runs = %+v", resp.Runs)
	}

	doc, err := db.Get(context.Background(), testutil.DocID(0))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := doc.Body["_derived"]; !ok {
		t.Error("document not recommitted")
	}

	w = do(t, router, http.MethodGet, "/recommit/api-run", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("checkpoint status = %d", w.Code)
	}
	var cp models.Checkpoint
	_ = json.Unmarshal(w.Body.Bytes(), &cp)
	if cp.Processed != 60 || cp.Skip != 64 {
		t.Errorf("checkpoint = %+v", cp)
	}

	w = do(t, router, http.MethodPost, "/recommit/api-run/resume", nil)
	if w.Code != http.StatusOK {
		t.Errorf("resume status = %d", w.Code)
	}

	w = do(t, router, http.MethodGet, "/recommit/unknown-run", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown run = %d, want 404", w.Code)
	}
}

func TestResumeRecommit_BadParams(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/recommit", RecommitRequest{RunID: "api-run"})
	if w.Code != http.StatusOK {
		t.Fatalf("recommit status = %d", w.Code)
	}

	for _, query := range []string{"keyset=yes", "window=abc", "window=-5"} {
		w = do(t, router, http.MethodPost, "/recommit/api-run/resume?"+query, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s = %d, want 400", query, w.Code)
		}
	}

	w = do(t, router, http.MethodPost, "/recommit/api-run/resume?keyset=true&window=16", nil)
	if w.Code != http.StatusOK {
		t.Errorf("valid params = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestRecommit_OverlappingPartitions(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/recommit", RecommitRequest{
		Partitions: []models.Query{{IDTo: "doc-00030"}, {IDFrom: "doc-00010"}},
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("overlap = %d, want 400", w.Code)
	}
}

func TestRecommit_InvalidBody(t *testing.T) {
	_, router := testEnv(t, "")

	req := httptest.NewRequest(http.MethodPost, "/recommit", bytes.NewReader([]byte("{")))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid body = %d, want 400", w.Code)
	}
}

func TestStoreDown_ServiceUnavailable(t *testing.T) {
	db, router := testEnv(t, "")
	db.Close()

	w := do(t, router, http.MethodPost, "/scan", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("scan on closed store = %d, want 503", w.Code)
	}
	w = do(t, router, http.MethodGet, "/tags/@7/plan?minimum_count=0", nil)
	if w.Code != http.StatusOK {
		// Tag 7 has no observed offsets before a scan, so no count is needed.
		t.Errorf("plan without offsets = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/tags", nil)
	req.Header.Set("Authorization", "Bearer secret123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("authed list = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	w := do(t, router, http.MethodGet, "/tags", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodPost, "/scan", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

// SSE endpoint auth tests.

// blockingSSE writes headers and blocks until the request context is done.
var blockingSSE = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	<-r.Context().Done()
})

func TestSSEEvents_AuthProtected(t *testing.T) {
	_, router := testEnvWithSSE(t, true, "secret", blockingSSE)

	w := do(t, router, http.MethodGet, "/events", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	_, router := testEnvWithSSE(t, true, "tok", blockingSSE)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with valid token should not 401")
	}
}
