package httpapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/gradebridge/internal/gradebridge/service"
	"github.com/BrandonDHaskell/gradebridge/internal/gradebridge/store"
	"github.com/BrandonDHaskell/gradebridge/internal/gradebridge/store/memory"
	"github.com/BrandonDHaskell/gradebridge/internal/gradebridge/types"
	"github.com/BrandonDHaskell/gradebridge/internal/httpapi"
)

// fakeAudit serves canned history.
type fakeAudit struct {
	entries   []types.AuditEntry
	err       error
	lastLimit int
}

func (f *fakeAudit) Recent(_ context.Context, limit int) ([]types.AuditEntry, error) {
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.entries) {
		return f.entries[:limit], nil
	}
	return f.entries, nil
}

func (f *fakeAudit) Summary(context.Context) (store.AuditSummary, error) {
	if f.err != nil {
		return store.AuditSummary{}, f.err
	}
	s := store.AuditSummary{Total: int64(len(f.entries))}
	for _, e := range f.entries {
		if e.Success {
			s.Succeeded++
		}
		if e.AttemptedAt.After(s.LastAttempted) {
			s.LastAttempted = e.AttemptedAt
		}
	}
	s.Failed = s.Total - s.Succeeded
	return s, nil
}

// newTestServer wires the HTTP API to in-memory collaborators and returns
// an httptest.Server whose URL can be hit with a plain http.Client.
func newTestServer(t *testing.T, status *service.Status, audit store.AuditReader) *httptest.Server {
	t.Helper()

	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger: zerolog.Nop(),
		Addr:   ":0",
		Status: status,
		Cursor: memory.NewCursorStoreAt("2024-03-01 10:00"),
		Audit:  audit,
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func sampleAudit() *fakeAudit {
	now := time.Now().UTC()
	return &fakeAudit{entries: []types.AuditEntry{
		{Date: "d3", Payload: "cipher3", Success: false, Reason: "host error", AttemptedAt: now},
		{Date: "d2", Payload: "cipher2", Success: true, AttemptedAt: now.Add(-time.Minute)},
		{Date: "d1", Payload: "cipher1", Success: true, AttemptedAt: now.Add(-2 * time.Minute)},
	}}
}

func get(t *testing.T, url, accept string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// ── Health ───────────────────────────────────────────────────────────────────

func TestHealthz_OK(t *testing.T) {
	st := service.NewStatus()
	st.SetRunning(true)
	ts := newTestServer(t, st, nil)

	resp := get(t, ts.URL+"/healthz", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["ok"] != true || body["running"] != true {
		t.Errorf("unexpected body: %v", body)
	}
}

// ── Status ───────────────────────────────────────────────────────────────────

func TestStatus_JSON(t *testing.T) {
	st := service.NewStatus()
	st.RecordCycle(service.CycleResult{CycleID: "c-1", Attempted: 2, Succeeded: 1, Failed: 1})
	st.RecordError(errors.New("intake fetch failed"))
	ts := newTestServer(t, st, sampleAudit())

	resp := get(t, ts.URL+"/v1/status", "application/json")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type: %q", ct)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["cursor"] != "2024-03-01 10:00" {
		t.Errorf("cursor: %v", body["cursor"])
	}
	if body["total_failed"] != float64(1) || body["last_error"] != "intake fetch failed" {
		t.Errorf("unexpected counters: %v", body)
	}
	audit, _ := body["audit"].(map[string]any)
	if audit["total"] != float64(3) || audit["succeeded"] != float64(2) {
		t.Errorf("audit summary: %v", audit)
	}
	cycle, _ := body["last_cycle"].(map[string]any)
	if cycle["cycle_id"] != "c-1" {
		t.Errorf("last cycle: %v", cycle)
	}
}

func TestStatus_Protobuf(t *testing.T) {
	st := service.NewStatus()
	st.SetRunning(true)
	ts := newTestServer(t, st, nil)

	resp := get(t, ts.URL+"/v1/status", "application/x-protobuf")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-protobuf" {
		t.Fatalf("content type: %q", ct)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg structpb.Struct
	if err := proto.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !msg.GetFields()["running"].GetBoolValue() {
		t.Error("expected running=true")
	}
	if msg.GetFields()["cursor"].GetStringValue() != "2024-03-01 10:00" {
		t.Errorf("cursor: %v", msg.GetFields()["cursor"])
	}
}

func TestStatus_AuditErrorIs500(t *testing.T) {
	ts := newTestServer(t, service.NewStatus(), &fakeAudit{err: errors.New("db closed")})

	resp := get(t, ts.URL+"/v1/status", "")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
}

// ── Audit ────────────────────────────────────────────────────────────────────

func TestAuditRecent_HidesPayloadByDefault(t *testing.T) {
	audit := sampleAudit()
	ts := newTestServer(t, service.NewStatus(), audit)

	resp := get(t, ts.URL+"/v1/audit/recent?limit=2", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Entries []map[string]any `json:"entries"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if audit.lastLimit != 2 || len(body.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d (limit %d)", len(body.Entries), audit.lastLimit)
	}
	if body.Entries[0]["date"] != "d3" || body.Entries[0]["reason"] != "host error" {
		t.Errorf("first entry: %v", body.Entries[0])
	}
	if _, ok := body.Entries[0]["payload"]; ok {
		t.Error("payload should be omitted unless requested")
	}

	resp = get(t, ts.URL+"/v1/audit/recent?payload=1", "")
	body.Entries = nil
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Entries[0]["payload"] != "cipher3" {
		t.Errorf("payload: %v", body.Entries[0]["payload"])
	}
}

func TestAuditRecent_LimitClamped(t *testing.T) {
	audit := sampleAudit()
	ts := newTestServer(t, service.NewStatus(), audit)

	get(t, ts.URL+"/v1/audit/recent?limit=100000", "")
	if audit.lastLimit != 500 {
		t.Errorf("expected limit clamped to 500, got %d", audit.lastLimit)
	}
}

func TestAuditRecent_BadLimit(t *testing.T) {
	ts := newTestServer(t, service.NewStatus(), sampleAudit())

	for _, q := range []string{"0", "-1", "ten"} {
		resp := get(t, ts.URL+"/v1/audit/recent?limit="+q, "")
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("limit=%s: expected 400, got %d", q, resp.StatusCode)
		}
	}
}

func TestAuditRecent_NoMirror(t *testing.T) {
	ts := newTestServer(t, service.NewStatus(), nil)

	resp := get(t, ts.URL+"/v1/audit/recent", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestUnknownRoute_404(t *testing.T) {
	ts := newTestServer(t, service.NewStatus(), nil)

	resp := get(t, ts.URL+"/v1/heartbeat", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

// ── gRPC health ──────────────────────────────────────────────────────────────

func TestHealthServer_TracksPollerState(t *testing.T) {
	st := service.NewStatus()
	hs := httpapi.NewHealthServer(httpapi.GRPCDependencies{Logger: zerolog.Nop(), Status: st})

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = hs.Serve(lis) }()
	t.Cleanup(hs.Stop)

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	client := healthpb.NewHealthClient(conn)

	check := func() healthpb.HealthCheckResponse_ServingStatus {
		t.Helper()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: httpapi.PollerServiceName})
		if err != nil {
			t.Fatalf("Check: %v", err)
		}
		return resp.GetStatus()
	}

	if got := check(); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("before start: got %v", got)
	}

	st.SetRunning(true)
	hs.Refresh()
	if got := check(); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("while running: got %v", got)
	}
}
