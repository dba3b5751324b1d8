package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func decode(t *testing.T, rec *httptest.ResponseRecorder) result {
	t.Helper()
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return body
}

func TestHealthz_AlwaysReturns200(t *testing.T) {
	t.Parallel()

	h := New()
	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	body := decode(t, rec)
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
	if body.Run != nil {
		t.Errorf("run = %+v, want omitted without WithInfo", body.Run)
	}
}

func TestHealthz_ReportsRunInfo(t *testing.T) {
	t.Parallel()

	h := New(WithInfo(func() Info {
		return Info{RunID: "run-1", Step: 12, Steps: 261, Alive: 990}
	}))
	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	body := decode(t, rec)
	if body.Run == nil {
		t.Fatal("run info missing")
	}
	if body.Run.RunID != "run-1" || body.Run.Step != 12 || body.Run.Steps != 261 || body.Run.Alive != 990 {
		t.Errorf("run = %+v", *body.Run)
	}
	if body.Run.Done {
		t.Error("done = true, want false")
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name: "all pass",
			checkers: []Checker{
				PingCheck("snapshot_store", fakePinger{}),
				{Name: "sim", Check: func(context.Context) error { return nil }},
			},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{"snapshot_store": "ok", "sim": "ok"},
		},
		{
			name: "store unreachable",
			checkers: []Checker{
				PingCheck("snapshot_store", fakePinger{err: errors.New("connection refused")}),
				{Name: "sim", Check: func(context.Context) error { return nil }},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"snapshot_store": "fail: connection refused", "sim": "ok"},
		},
		{
			name: "all fail",
			checkers: []Checker{
				PingCheck("snapshot_store", fakePinger{err: errors.New("timeout")}),
				{Name: "sim", Check: func(context.Context) error { return errors.New("not started") }},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"snapshot_store": "fail: timeout", "sim": "fail: not started"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			h := New(WithCheckers(tc.checkers...))
			rec := httptest.NewRecorder()
			h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

			if rec.Code != tc.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tc.wantCode)
			}
			body := decode(t, rec)
			if body.Status != tc.wantStatus {
				t.Errorf("status = %q, want %q", body.Status, tc.wantStatus)
			}
			for name, want := range tc.wantChecks {
				if got := body.Checks[name]; got != want {
					t.Errorf("checks[%q] = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	t.Parallel()

	h := New(WithCheckers(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestRegister_RoutesWork(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	New(WithCheckers(PingCheck("store", fakePinger{}))).Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		t.Run(path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
			if rec.Code != http.StatusOK {
				t.Errorf("code = %d, want %d", rec.Code, http.StatusOK)
			}
		})
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/healthz", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST code = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}
