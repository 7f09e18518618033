package statusd

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/GoSim-25-26J-441/agent-tuner/internal/progress"
	"github.com/GoSim-25-26J-441/agent-tuner/internal/space"
	"github.com/GoSim-25-26J-441/agent-tuner/internal/training"
	"github.com/GoSim-25-26J-441/agent-tuner/internal/versioner"
	"github.com/GoSim-25-26J-441/agent-tuner/pkg/models"
)

type staticSource struct {
	status training.Status
}

func (s staticSource) Status() training.Status {
	return s.status
}

func get(t *testing.T, h http.Handler, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	var body map[string]any
	if rr.Header().Get("Content-Type") == "application/json" {
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("invalid json: %v", err)
		}
	}
	return rr, body
}

func TestHTTPServerHealthz(t *testing.T) {
	srv := NewHTTPServer(staticSource{})
	rr, body := get(t, srv.Handler(), "/healthz")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status ok, got %v", body["status"])
	}
}

func TestHTTPServerStatus(t *testing.T) {
	best := 0.75
	srv := NewHTTPServer(staticSource{status: training.Status{
		Pool:       "pool",
		Mode:       "bayesian",
		Running:    true,
		Iteration:  7,
		BestReward: &best,
		Rewards:    map[string]float64{"fixed_opponents": 0.5},
	}})

	rr, body := get(t, srv.Handler(), "/v1/status")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	status, ok := body["status"].(map[string]any)
	if !ok {
		t.Fatalf("expected status object, got %v", body)
	}
	if status["iteration"] != float64(7) || status["mode"] != "bayesian" || status["best_reward"] != 0.75 {
		t.Fatalf("unexpected status: %v", status)
	}

	rr = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/status", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestHTTPServerProgress(t *testing.T) {
	srv := NewHTTPServer(staticSource{})
	if rr, _ := get(t, srv.Handler(), "/v1/progress"); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without a progress log, got %d", rr.Code)
	}

	rec := progress.New(filepath.Join(t.TempDir(), "learning_progress.csv"))
	for i := 0; i < 3; i++ {
		if err := rec.Record(progress.Int("Experience buffer size", i)); err != nil {
			t.Fatalf("Record error: %v", err)
		}
	}
	srv.WithProgress(rec)

	rr, body := get(t, srv.Handler(), "/v1/progress?limit=2")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	rows := body["rows"].([]any)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	last := rows[1].(map[string]any)
	if last["Experience buffer size"] != "2" {
		t.Fatalf("unexpected last row: %v", last)
	}

	if rr, _ := get(t, srv.Handler(), "/v1/progress?limit=abc"); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a bad limit, got %d", rr.Code)
	}
}

func TestHTTPServerVersions(t *testing.T) {
	sp, err := space.New([]models.HyperparameterSpec{{Name: "a", Lower: 0, Upper: 1, Type: models.ParamFloat}})
	if err != nil {
		t.Fatalf("space error: %v", err)
	}
	v := versioner.New(t.TempDir(), "pool")
	path, _, err := v.Init(sp)
	if err != nil {
		t.Fatalf("Init error: %v", err)
	}
	if _, err := v.Promote(path); err != nil {
		t.Fatalf("Promote error: %v", err)
	}

	srv := NewHTTPServer(staticSource{}).WithVersions(v)
	rr, body := get(t, srv.Handler(), "/v1/versions")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	items := body["versions"].([]any)
	if len(items) != 2 {
		t.Fatalf("expected 2 versions, got %v", items)
	}
	if items[1].(map[string]any)["version"] != float64(2) {
		t.Fatalf("unexpected versions: %v", items)
	}
}

func TestHTTPServerMetrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("tuner_iterations_total 1\n"))
	})
	srv := NewHTTPServer(staticSource{}).WithMetrics(metrics)
	rr, _ := get(t, srv.Handler(), "/metrics")
	if rr.Code != http.StatusOK || rr.Body.String() != "tuner_iterations_total 1\n" {
		t.Fatalf("unexpected metrics response: %d %q", rr.Code, rr.Body.String())
	}
}

func TestServeListenerShutsDownOnCancel(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewHTTPServer(staticSource{}).ServeListener(ctx, lis) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get("http://" + lis.Addr().String() + "/healthz")
		if err == nil {
			_ = resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server did not come up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ServeListener error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
