//go:build !integration

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"drawing-query/internal/domain"
	"drawing-query/internal/domain/model"
)

type fakeJobs struct {
	submitted []string
	useCache  []bool
	snaps     map[string]model.JobSnapshot
	failWith  error
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{snaps: map[string]model.JobSnapshot{}}
}

func (f *fakeJobs) Submit(ctx context.Context, query string, targets []string, useCache bool) (string, error) {
	if f.failWith != nil {
		return "", f.failWith
	}
	if query == "" || len(targets) == 0 {
		return "", fmt.Errorf("%w: empty", domain.ErrValidation)
	}
	id := fmt.Sprintf("job-%d", len(f.submitted)+1)
	f.submitted = append(f.submitted, query)
	f.useCache = append(f.useCache, useCache)
	f.snaps[id] = model.JobSnapshot{ID: id, Query: query, Targets: targets, Status: model.JobStatusPending}
	return id, nil
}

func (f *fakeJobs) GetStatus(ctx context.Context, id string) (model.JobSnapshot, error) {
	s, ok := f.snaps[id]
	if !ok {
		return model.JobSnapshot{}, domain.ErrNotFound
	}
	return s, nil
}

func (f *fakeJobs) ListJobs(ctx context.Context) ([]model.JobSummary, error) {
	out := []model.JobSummary{}
	for id, s := range f.snaps {
		out = append(out, model.JobSummary{ID: id, Status: s.Status, Query: s.Query, TargetCount: len(s.Targets)})
	}
	return out, nil
}

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(nil)
	return &l
}

func do(t *testing.T, h http.Handler, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestSubmitAndPoll(t *testing.T) {
	jobs := newFakeJobs()
	h := NewServer(jobs, nil, newTestLogger(), true).Router()

	rr := do(t, h, http.MethodPost, "/api/v1/queries", `{"query":"Q","targets":["A","B"]}`, nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("submit status = %d body=%s", rr.Code, rr.Body.String())
	}
	var resp submitResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil || resp.JobID == "" {
		t.Fatalf("bad submit response %q: %v", rr.Body.String(), err)
	}
	if !jobs.useCache[0] {
		t.Fatal("use_cache should default to true")
	}
	if rr.Header().Get(traceHeader) == "" {
		t.Fatal("trace id header missing")
	}

	rr = do(t, h, http.MethodGet, "/api/v1/queries/"+resp.JobID, "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d", rr.Code)
	}
	var snap model.JobSnapshot
	if err := json.Unmarshal(rr.Body.Bytes(), &snap); err != nil || snap.ID != resp.JobID {
		t.Fatalf("bad snapshot: %s", rr.Body.String())
	}

	rr = do(t, h, http.MethodGet, "/api/v1/queries", "", nil)
	if rr.Code != http.StatusOK || !bytes.Contains(rr.Body.Bytes(), []byte(resp.JobID)) {
		t.Fatalf("list = %d %s", rr.Code, rr.Body.String())
	}
}

func TestSubmit_ErrorMapping(t *testing.T) {
	jobs := newFakeJobs()
	h := NewServer(jobs, nil, newTestLogger(), false).Router()

	cases := []struct {
		name, body string
		want       int
	}{
		{"bad json", `{"query":`, http.StatusBadRequest},
		{"unknown field", `{"query":"Q","targets":["A"],"extra":1}`, http.StatusBadRequest},
		{"empty query", `{"query":"","targets":["A"]}`, http.StatusBadRequest},
		{"empty targets", `{"query":"Q","targets":[]}`, http.StatusBadRequest},
		{"explicit no cache", `{"query":"Q","targets":["A"],"use_cache":false}`, http.StatusAccepted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := do(t, h, http.MethodPost, "/api/v1/queries", tc.body, nil)
			if rr.Code != tc.want {
				t.Fatalf("code = %d, want %d (%s)", rr.Code, tc.want, rr.Body.String())
			}
		})
	}
	if len(jobs.useCache) != 1 || jobs.useCache[0] {
		t.Fatalf("use_cache=false not forwarded: %v", jobs.useCache)
	}

	jobs.failWith = fmt.Errorf("disk full")
	if rr := do(t, h, http.MethodPost, "/api/v1/queries", `{"query":"Q","targets":["A"]}`, nil); rr.Code != http.StatusInternalServerError {
		t.Fatalf("internal error mapped to %d", rr.Code)
	}
}

func TestStatus_NotFound(t *testing.T) {
	h := NewServer(newFakeJobs(), nil, newTestLogger(), false).Router()
	if rr := do(t, h, http.MethodGet, "/api/v1/queries/missing", "", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("code = %d", rr.Code)
	}
}

func TestAuth(t *testing.T) {
	auth := NewAuthManager("s3cret", time.Hour)
	h := NewServer(newFakeJobs(), auth, newTestLogger(), false).Router()

	if rr := do(t, h, http.MethodGet, "/api/v1/queries", "", nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("no token: %d", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/api/v1/queries", "", map[string]string{"Authorization": "Bearer nope"}); rr.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: %d", rr.Code)
	}
	other, _ := NewAuthManager("other", time.Hour).Mint("cli")
	if rr := do(t, h, http.MethodGet, "/api/v1/queries", "", map[string]string{"Authorization": "Bearer " + other}); rr.Code != http.StatusUnauthorized {
		t.Fatalf("foreign token: %d", rr.Code)
	}
	tok, err := auth.Mint("cli")
	if err != nil {
		t.Fatal(err)
	}
	if rr := do(t, h, http.MethodGet, "/api/v1/queries", "", map[string]string{"Authorization": "Bearer " + tok}); rr.Code != http.StatusOK {
		t.Fatalf("valid token: %d", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/health", "", nil); rr.Code != http.StatusOK {
		t.Fatalf("health must stay public: %d", rr.Code)
	}
}

func TestNewAuthManager_EmptySecretDisables(t *testing.T) {
	if NewAuthManager("", time.Hour) != nil {
		t.Fatal("empty secret should disable auth")
	}
}
