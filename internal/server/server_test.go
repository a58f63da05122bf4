package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"dealline/internal/config"
	"dealline/internal/db"
	"dealline/internal/domain"
	"dealline/internal/migrate"
	"dealline/internal/pipeline"
)

type testServer struct {
	URL    string
	Engine pipeline.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := pipeline.New(conn, config.Default(), log)
	eng.Now = func() time.Time { return time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC) }
	handler, err := New(Config{Engine: eng, BasePath: "/v1", Log: log})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: eng,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(testSrv.close)
	return testSrv
}

func get(t *testing.T, client *http.Client, url string) (*http.Response, []byte) {
	t.Helper()
	res, err := client.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func seedLead(t *testing.T, srv *testServer, id, owner, createdAt string) {
	t.Helper()
	err := srv.Engine.Repo.InsertLead(context.Background(), domain.Lead{
		ID: id, Name: "Lead " + id, Status: "new", OwnerID: owner, CreatedAt: createdAt,
	})
	if err != nil {
		t.Fatalf("seed lead: %v", err)
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	res, data := get(t, srv.Client(), srv.URL+"/v1/health")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Status != "ok" {
		t.Fatalf("status %q", body.Status)
	}
}

func TestLeadStageNotFoundEnvelope(t *testing.T) {
	srv := newTestServer(t)
	res, data := get(t, srv.Client(), srv.URL+"/v1/leads/nope/stage")
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if envelope.Error.Code != "not_found" {
		t.Fatalf("code %q: %s", envelope.Error.Code, data)
	}
}

func TestLeadStage(t *testing.T) {
	srv := newTestServer(t)
	seedLead(t, srv, "l1", "anna", "2024-06-01T00:00:00Z")

	res, data := get(t, srv.Client(), srv.URL+"/v1/leads/l1/stage")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
	var st pipeline.StageStatus
	if err := json.Unmarshal(data, &st); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if st.LeadID != "l1" || st.CurrentStage != "lead" || !st.CanProgress {
		t.Fatalf("stage %+v", st)
	}
}

func TestFunnelEndpoint(t *testing.T) {
	srv := newTestServer(t)
	seedLead(t, srv, "l1", "anna", "2024-06-01T00:00:00Z")
	seedLead(t, srv, "l2", "ben", "2024-06-02T00:00:00Z")

	res, data := get(t, srv.Client(), srv.URL+"/v1/analytics/funnel?period=month&employee_breakdown=true")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
	var report pipeline.FunnelReport
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if report.Summary.TotalLeads != 2 || report.Period != "month" {
		t.Fatalf("report %+v", report.Summary)
	}
	if len(report.EmployeeBreakdown) != 2 {
		t.Fatalf("breakdown %v", report.EmployeeBreakdown)
	}
}

func TestExplicitWindowAndOwnerBindQuery(t *testing.T) {
	srv := newTestServer(t)
	seedLead(t, srv, "in", "anna", "2024-03-10T00:00:00Z")
	seedLead(t, srv, "late", "anna", "2024-06-01T00:00:00Z")
	seedLead(t, srv, "other", "ben", "2024-03-12T00:00:00Z")

	url := srv.URL + "/v1/analytics/funnel?start_date=2024-03-01&end_date=2024-04-01&owner_id=anna"
	res, data := get(t, srv.Client(), url)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
	var report pipeline.FunnelReport
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if report.Period != "custom" {
		t.Fatalf("period %q, explicit bounds ignored", report.Period)
	}
	if report.Summary.TotalLeads != 1 {
		t.Fatalf("total leads %d, window or owner filter ignored", report.Summary.TotalLeads)
	}
}

func TestInvalidPeriodEnvelope(t *testing.T) {
	srv := newTestServer(t)
	res, data := get(t, srv.Client(), srv.URL+"/v1/analytics/forecast?period=decade")
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
	if !strings.Contains(string(data), "invalid_period") {
		t.Fatalf("body %s", data)
	}
}

func TestBadDateRejected(t *testing.T) {
	srv := newTestServer(t)
	res, data := get(t, srv.Client(), srv.URL+"/v1/analytics/velocity?start_date=yesterday&end_date=2024-02-01")
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
	if !strings.Contains(string(data), "start_date") {
		t.Fatalf("body %s", data)
	}
}

func TestMetricsExposition(t *testing.T) {
	srv := newTestServer(t)
	// Generate one measured request first.
	get(t, srv.Client(), srv.URL+"/v1/health")

	res, data := get(t, srv.Client(), srv.URL+"/metrics")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d", res.StatusCode)
	}
	if !strings.Contains(string(data), "dealline_http_requests_total") {
		t.Fatalf("missing request counter in exposition")
	}
}
