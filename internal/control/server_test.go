package control

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/marksync/marksync/internal/bookmarks"
	"github.com/marksync/marksync/internal/diff"
	"github.com/marksync/marksync/internal/engine"
	"github.com/marksync/marksync/internal/merge"
)

// fakeCoordinator scripts the engine responses.
type fakeCoordinator struct {
	syncErr error
	pushErr error
	pullErr error
	status  *engine.Status

	syncs   int
	focuses int
}

func (f *fakeCoordinator) Sync(ctx context.Context) error { f.syncs++; return f.syncErr }
func (f *fakeCoordinator) Push(ctx context.Context) error { return f.pushErr }
func (f *fakeCoordinator) Pull(ctx context.Context) error { return f.pullErr }
func (f *fakeCoordinator) OnFocus(ctx context.Context)    { f.focuses++ }
func (f *fakeCoordinator) Status(ctx context.Context) (*engine.Status, error) {
	if f.status == nil {
		return &engine.Status{Profile: "test", Synced: true}, nil
	}
	return f.status, nil
}

func startTestServer(t *testing.T, eng Coordinator) *Server {
	t.Helper()
	srv := NewServer(Config{
		Addr:   "127.0.0.1:0",
		Logger: log.New(io.Discard, "", 0),
	}, eng)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })
	return srv
}

func postJSON(t *testing.T, url string) (int, opResult) {
	t.Helper()
	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	var body opResult
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response failed: %v", err)
	}
	return resp.StatusCode, body
}

// TestSyncEndpoint verifies a clean operation returns 200.
func TestSyncEndpoint(t *testing.T) {
	eng := &fakeCoordinator{}
	srv := startTestServer(t, eng)

	status, body := postJSON(t, "http://"+srv.Addr()+"/sync")
	if status != http.StatusOK || !body.OK {
		t.Errorf("sync response = %d %+v", status, body)
	}
	if eng.syncs != 1 {
		t.Errorf("Sync called %d times, want 1", eng.syncs)
	}
}

// TestFocusEndpoint verifies a focus notification reaches the engine's
// focus trigger and is acknowledged.
func TestFocusEndpoint(t *testing.T) {
	eng := &fakeCoordinator{}
	srv := startTestServer(t, eng)

	status, body := postJSON(t, "http://"+srv.Addr()+"/focus")
	if status != http.StatusOK || !body.OK {
		t.Errorf("focus response = %d %+v", status, body)
	}
	if eng.focuses != 1 {
		t.Errorf("OnFocus called %d times, want 1", eng.focuses)
	}
}

// TestBusyMapsTo409 verifies the single-flight rejection surfaces as a
// conflict status with the busy message.
func TestBusyMapsTo409(t *testing.T) {
	eng := &fakeCoordinator{pushErr: engine.ErrBusy}
	srv := startTestServer(t, eng)

	status, body := postJSON(t, "http://"+srv.Addr()+"/push")
	if status != http.StatusConflict {
		t.Errorf("busy status = %d, want 409", status)
	}
	if body.OK || body.Error == "" || len(body.Conflicts) != 0 {
		t.Errorf("busy body = %+v", body)
	}
}

// TestMergeConflictMapsTo409WithDetails verifies conflicts carry their
// per-entry details so a client can render them.
func TestMergeConflictMapsTo409WithDetails(t *testing.T) {
	conflictErr := &merge.ConflictError{Conflicts: []merge.Conflict{{
		Key:    bookmarks.LinkKey("https://news.example.com"),
		Local:  diff.Change{Type: diff.Removed, Entry: bookmarks.NewLink("News", "https://news.example.com"), PriorParent: ""},
		Remote: diff.Change{Type: diff.Modified, Entry: bookmarks.NewLink("Headlines", "https://news.example.com"), PriorTitle: "News"},
	}}}
	eng := &fakeCoordinator{syncErr: conflictErr}
	srv := startTestServer(t, eng)

	status, body := postJSON(t, "http://"+srv.Addr()+"/sync")
	if status != http.StatusConflict {
		t.Errorf("conflict status = %d, want 409", status)
	}
	if len(body.Conflicts) != 1 {
		t.Fatalf("conflict body = %+v", body)
	}
}

// TestOperationFailureMapsTo500 verifies plain failures are 500s.
func TestOperationFailureMapsTo500(t *testing.T) {
	eng := &fakeCoordinator{pullErr: errors.New("remote unreachable")}
	srv := startTestServer(t, eng)

	status, body := postJSON(t, "http://"+srv.Addr()+"/pull")
	if status != http.StatusInternalServerError || body.Error == "" {
		t.Errorf("failure response = %d %+v", status, body)
	}
}

// TestStatusEndpoint verifies the status passthrough.
func TestStatusEndpoint(t *testing.T) {
	eng := &fakeCoordinator{status: &engine.Status{Profile: "work", Conflicted: true}}
	srv := startTestServer(t, eng)

	resp, err := http.Get("http://" + srv.Addr() + "/status")
	if err != nil {
		t.Fatalf("GET /status failed: %v", err)
	}
	defer resp.Body.Close()

	var st engine.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decoding status failed: %v", err)
	}
	if st.Profile != "work" || !st.Conflicted {
		t.Errorf("status = %+v", st)
	}
}

// TestEventBroadcast verifies a published engine event reaches a
// connected WebSocket client.
func TestEventBroadcast(t *testing.T) {
	eng := &fakeCoordinator{}
	srv := startTestServer(t, eng)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+srv.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("WebSocket dial failed: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Registration races the dial response; wait for the server side.
	deadline := time.Now().Add(2 * time.Second)
	for srv.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if srv.ClientCount() != 1 {
		t.Fatalf("ClientCount() = %d, want 1", srv.ClientCount())
	}

	srv.Publish(engine.Event{Kind: "sync_complete", Detail: "2 applied locally, 0 pushed", Time: time.Now()})

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("reading broadcast failed: %v", err)
	}
	var ev engine.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decoding broadcast failed: %v", err)
	}
	if ev.Kind != "sync_complete" {
		t.Errorf("broadcast kind = %q", ev.Kind)
	}
}

// TestHealthEndpoint verifies liveness reporting.
func TestHealthEndpoint(t *testing.T) {
	srv := startTestServer(t, &fakeCoordinator{})

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}
}
