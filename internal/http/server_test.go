package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"warga/internal/backup"
	"warga/internal/core"
	"warga/internal/services"
	"warga/internal/snapshot"
	"warga/internal/store/memory"
)

const testAdminToken = "test-admin-token"

func newTestServer(t *testing.T) (*Server, *memory.Store) {
	t.Helper()

	st := memory.New()
	snaps, err := snapshot.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("snapshot store: %v", err)
	}
	orch := backup.NewOrchestrator(st, snaps)
	ledger := services.NewLedgerService(st, nil, 50000)
	bk := services.NewBackupService(orch, snaps, nil)

	srv := NewServer(":0", ledger, bk, Options{AdminToken: testAdminToken})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv, st
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func doAdmin(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-Token", testAdminToken)
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		srv.Handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d", path, rr.Code)
		}
	}
}

func TestResidentLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := doJSON(t, srv, http.MethodPost, "/api/residents", core.Resident{
		FullName:  "Budi Santoso",
		BlockCode: "A-01",
		Status:    core.StatusSettled,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("save resident status=%d body=%s", rr.Code, rr.Body.String())
	}

	var saved core.Resident
	if err := json.Unmarshal(rr.Body.Bytes(), &saved); err != nil {
		t.Fatalf("decode resident: %v", err)
	}
	if saved.ID == "" {
		t.Fatalf("expected generated id")
	}

	rr = doJSON(t, srv, http.MethodGet, "/api/residents", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list status=%d", rr.Code)
	}
	var residents []core.Resident
	if err := json.Unmarshal(rr.Body.Bytes(), &residents); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(residents) != 1 {
		t.Fatalf("expected 1 resident, got %d", len(residents))
	}

	rr = doJSON(t, srv, http.MethodDelete, "/api/residents/"+saved.ID, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete status=%d", rr.Code)
	}

	rr = doJSON(t, srv, http.MethodDelete, "/api/residents/"+saved.ID, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("delete missing status=%d", rr.Code)
	}
}

func TestSaveResidentRejectsInvalid(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := doJSON(t, srv, http.MethodPost, "/api/residents", core.Resident{
		BlockCode: "A-01",
		Status:    core.StatusSettled,
	})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for missing name, got %d", rr.Code)
	}
}

func TestSaveResidentRejectsUnknownFields(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/residents",
		strings.NewReader(`{"fullName":"X","blockCode":"A-01","status":"settled","bogus":true}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rr.Code)
	}
}

func TestDuesToggleAndDashboard(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := doJSON(t, srv, http.MethodPost, "/api/residents", core.Resident{
		FullName:  "Siti Rahma",
		BlockCode: "B-02",
		Status:    core.StatusSettled,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("save resident status=%d", rr.Code)
	}
	var res core.Resident
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode resident: %v", err)
	}

	rr = doJSON(t, srv, http.MethodPost, "/api/dues/toggle", toggleDuesRequest{
		ResidentID: res.ID, Month: 3, Year: 2026,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("toggle status=%d body=%s", rr.Code, rr.Body.String())
	}
	var toggled toggleDuesResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &toggled); err != nil {
		t.Fatalf("decode toggle: %v", err)
	}
	if !toggled.Paid {
		t.Fatalf("expected paid=true after first toggle")
	}

	rr = doJSON(t, srv, http.MethodGet, "/api/dashboard?year=2026&month=3", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("dashboard status=%d", rr.Code)
	}
	var dash services.MonthDashboard
	if err := json.Unmarshal(rr.Body.Bytes(), &dash); err != nil {
		t.Fatalf("decode dashboard: %v", err)
	}
	if dash.Rollup.Income != 50000 {
		t.Fatalf("expected income 50000, got %d", dash.Rollup.Income)
	}
	if !dash.Paid[res.ID] {
		t.Fatalf("expected resident marked paid")
	}

	// Untoggle must invalidate the cached dashboard
	rr = doJSON(t, srv, http.MethodPost, "/api/dues/toggle", toggleDuesRequest{
		ResidentID: res.ID, Month: 3, Year: 2026,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("second toggle status=%d", rr.Code)
	}

	rr = doJSON(t, srv, http.MethodGet, "/api/dashboard?year=2026&month=3", nil)
	if err := json.Unmarshal(rr.Body.Bytes(), &dash); err != nil {
		t.Fatalf("decode dashboard: %v", err)
	}
	if dash.Rollup.Income != 0 {
		t.Fatalf("expected income 0 after untoggle, got %d", dash.Rollup.Income)
	}
}

func TestToggleDuesRejectsBadPeriod(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := doJSON(t, srv, http.MethodPost, "/api/dues/toggle", toggleDuesRequest{
		ResidentID: "r1", Month: 13, Year: 2026,
	})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for month 13, got %d", rr.Code)
	}
}

func TestExpenseEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := doJSON(t, srv, http.MethodPost, "/api/expenses", core.Expense{
		Description: "Security salary",
		Amount:      300000,
		Date:        time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		Category:    core.CategoryOperational,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("record expense status=%d body=%s", rr.Code, rr.Body.String())
	}
	var exp core.Expense
	if err := json.Unmarshal(rr.Body.Bytes(), &exp); err != nil {
		t.Fatalf("decode expense: %v", err)
	}

	rr = doJSON(t, srv, http.MethodGet, "/api/dashboard?year=2026&month=3", nil)
	var dash services.MonthDashboard
	if err := json.Unmarshal(rr.Body.Bytes(), &dash); err != nil {
		t.Fatalf("decode dashboard: %v", err)
	}
	if dash.Rollup.Expense != 300000 {
		t.Fatalf("expected expense 300000, got %d", dash.Rollup.Expense)
	}

	rr = doJSON(t, srv, http.MethodDelete, "/api/expenses/"+exp.ID, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete expense status=%d", rr.Code)
	}
}

func TestYearSeriesEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := doJSON(t, srv, http.MethodPost, "/api/expenses", core.Expense{
		Description: "Gate repair",
		Amount:      120000,
		Date:        time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
		Category:    core.CategoryOperational,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("record expense status=%d", rr.Code)
	}

	rr = doJSON(t, srv, http.MethodGet, "/api/dashboard/year?year=2026", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("year series status=%d", rr.Code)
	}
	var series seriesResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &series); err != nil {
		t.Fatalf("decode series: %v", err)
	}
	if len(series.Months) != 12 {
		t.Fatalf("expected 12 months, got %d", len(series.Months))
	}
	if series.Months[11].CumulativeBalance != -120000 {
		t.Fatalf("expected cumulative -120000, got %d", series.Months[11].CumulativeBalance)
	}
}

func TestVoluntaryDuesEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, amount := range []int64{100000, 0, 50000} {
		rr := doJSON(t, srv, http.MethodPost, "/api/residents", core.Resident{
			FullName:        "Resident",
			BlockCode:       "C-03",
			Status:          core.StatusSettled,
			EventDuesAmount: amount,
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("save resident status=%d", rr.Code)
		}
	}

	rr := doJSON(t, srv, http.MethodGet, "/api/dues/voluntary", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("voluntary status=%d", rr.Code)
	}
	var totals core.VoluntaryTotals
	if err := json.Unmarshal(rr.Body.Bytes(), &totals); err != nil {
		t.Fatalf("decode totals: %v", err)
	}
	if totals.Total != 150000 || totals.ContributorCount != 2 {
		t.Fatalf("unexpected totals: %+v", totals)
	}
}

func TestAdminEndpointsRequireToken(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := doJSON(t, srv, http.MethodGet, "/api/backup/export", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/backup/export", nil)
	req.Header.Set("X-Admin-Token", "wrong")
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/backup/export", nil)
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with bearer token, got %d", rec.Code)
	}
}

func TestAdminEndpointsDisabledWithoutConfiguredToken(t *testing.T) {
	st := memory.New()
	snaps, err := snapshot.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("snapshot store: %v", err)
	}
	orch := backup.NewOrchestrator(st, snaps)
	ledger := services.NewLedgerService(st, nil, 50000)
	bk := services.NewBackupService(orch, snaps, nil)
	srv := NewServer(":0", ledger, bk, Options{})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/backup/export", nil)
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 with no configured token, got %d", rr.Code)
	}
}

func TestExportRestoreRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := doJSON(t, srv, http.MethodPost, "/api/residents", core.Resident{
		FullName:  "Agus Wijaya",
		BlockCode: "D-04",
		Status:    core.StatusSettled,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("save resident status=%d", rr.Code)
	}
	var res core.Resident
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode resident: %v", err)
	}

	rr = doAdmin(t, srv, http.MethodGet, "/api/backup/export", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("export status=%d", rr.Code)
	}
	if cd := rr.Header().Get("Content-Disposition"); !strings.Contains(cd, "attachment") {
		t.Fatalf("expected attachment disposition, got %q", cd)
	}
	exported := rr.Body.Bytes()

	// Wreck the dataset, then restore the export
	rr = doJSON(t, srv, http.MethodDelete, "/api/residents/"+res.ID, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete status=%d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/backup/restore?confirm=true", bytes.NewReader(exported))
	req.Header.Set("X-Admin-Token", testAdminToken)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("restore status=%d body=%s", rec.Code, rec.Body.String())
	}
	var result restoreResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if !result.Success || result.Outcome != backup.OutcomeCommitted {
		t.Fatalf("unexpected restore result: %+v", result)
	}

	rr = doJSON(t, srv, http.MethodGet, "/api/residents", nil)
	var residents []core.Resident
	if err := json.Unmarshal(rr.Body.Bytes(), &residents); err != nil {
		t.Fatalf("decode residents: %v", err)
	}
	if len(residents) != 1 || residents[0].ID != res.ID {
		t.Fatalf("expected restored resident %s, got %+v", res.ID, residents)
	}
}

func TestRestoreWithoutConfirmation(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := doAdmin(t, srv, http.MethodGet, "/api/backup/export", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("export status=%d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/backup/restore", bytes.NewReader(rr.Body.Bytes()))
	req.Header.Set("X-Admin-Token", testAdminToken)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusPreconditionRequired {
		t.Fatalf("expected 428 without confirm, got %d", rec.Code)
	}
}

func TestRestoreMalformedDocument(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/backup/restore?confirm=true", strings.NewReader("{not json"))
	req.Header.Set("X-Admin-Token", testAdminToken)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for malformed document, got %d", rec.Code)
	}
}

func TestSnapshotEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := doJSON(t, srv, http.MethodPost, "/api/residents", core.Resident{
		FullName:  "Dewi Lestari",
		BlockCode: "E-05",
		Status:    core.StatusSettled,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("save resident status=%d", rr.Code)
	}
	var res core.Resident
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode resident: %v", err)
	}

	rr = doAdmin(t, srv, http.MethodPost, "/api/snapshots", createSnapshotRequest{Name: "before-cleanup"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create snapshot status=%d body=%s", rr.Code, rr.Body.String())
	}

	rr = doAdmin(t, srv, http.MethodPost, "/api/snapshots", createSnapshotRequest{Name: "before-cleanup"})
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate snapshot, got %d", rr.Code)
	}

	rr = doAdmin(t, srv, http.MethodPost, "/api/snapshots", createSnapshotRequest{Name: "bad name!"})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for bad name, got %d", rr.Code)
	}

	rr = doAdmin(t, srv, http.MethodGet, "/api/snapshots", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list snapshots status=%d", rr.Code)
	}
	var metas []snapshot.Meta
	if err := json.Unmarshal(rr.Body.Bytes(), &metas); err != nil {
		t.Fatalf("decode metas: %v", err)
	}
	if len(metas) != 1 || metas[0].Name != "before-cleanup" {
		t.Fatalf("unexpected snapshot list: %+v", metas)
	}

	// Mutate, then restore the snapshot
	rr = doJSON(t, srv, http.MethodDelete, "/api/residents/"+res.ID, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete status=%d", rr.Code)
	}

	rr = doAdmin(t, srv, http.MethodPost, "/api/snapshots/before-cleanup/restore?confirm=true", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("restore snapshot status=%d body=%s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, srv, http.MethodGet, "/api/residents", nil)
	var residents []core.Resident
	if err := json.Unmarshal(rr.Body.Bytes(), &residents); err != nil {
		t.Fatalf("decode residents: %v", err)
	}
	if len(residents) != 1 {
		t.Fatalf("expected resident restored from snapshot, got %d", len(residents))
	}

	rr = doAdmin(t, srv, http.MethodDelete, "/api/snapshots/before-cleanup", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete snapshot status=%d", rr.Code)
	}

	rr = doAdmin(t, srv, http.MethodDelete, "/api/snapshots/before-cleanup", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 deleting missing snapshot, got %d", rr.Code)
	}
}

func TestBackupStateEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := doAdmin(t, srv, http.MethodGet, "/api/backup/state", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("state status=%d", rr.Code)
	}
	var state map[string]backup.State
	if err := json.Unmarshal(rr.Body.Bytes(), &state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if state["state"] != backup.StateIdle {
		t.Fatalf("expected idle state, got %q", state["state"])
	}
}

func TestRateLimiterAllowsWithinWindow(t *testing.T) {
	rl := newRateLimiter()
	defer rl.stop()

	for i := 0; i < requestsPerMinute; i++ {
		if !rl.allow("10.0.0.1") {
			t.Fatalf("request %d unexpectedly limited", i)
		}
	}
	if rl.allow("10.0.0.1") {
		t.Fatalf("expected request over the window limit to be rejected")
	}
	if !rl.allow("10.0.0.2") {
		t.Fatalf("other clients must not share the window")
	}
}

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		realIP     string
		want       string
	}{
		{"remote addr only", "203.0.113.7:1234", "", "", "203.0.113.7"},
		{"forwarded chain", "10.0.0.1:80", "198.51.100.4, 10.0.0.1", "", "198.51.100.4"},
		{"real ip", "10.0.0.1:80", "", "198.51.100.9", "198.51.100.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			if got := extractClientIP(req); got != tt.want {
				t.Errorf("extractClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
