package printevent

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

type fakeRecorder struct {
	mu     sync.Mutex
	starts []string
	layers [][2]int
	ends   []string
}

func (f *fakeRecorder) PrintStart(name string, owner bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, name)
	return nil
}

func (f *fakeRecorder) LayerChange(current, total int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.layers = append(f.layers, [2]int{current, total})
}

func (f *fakeRecorder) PrintEnd(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ends = append(f.ends, reason)
}

func (f *fakeRecorder) snapshot() (starts []string, layers [][2]int, ends []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.starts...), append([][2]int{}, f.layers...), append([]string{}, f.ends...)
}

func startEchoServer(t *testing.T, messages []string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, m := range messages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		// keep the connection open briefly so the client has time to read
		time.Sleep(200 * time.Millisecond)
	}))
	return srv
}

func TestClientDispatchesEventsInOrder(t *testing.T) {
	messages := []string{
		`{"event":"print_start","name":"Test_PLA_0.2.gcode"}`,
		`{"event":"layer_change","current":2,"total":10}`,
		`{"event":"print_end","reason":"complete"}`,
	}
	srv := startEchoServer(t, messages)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	rec := &fakeRecorder{}
	c := New(wsURL, rec)

	stop := make(chan struct{})
	go c.Run(stop)
	defer close(stop)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		starts, _, ends := rec.snapshot()
		if len(starts) == 1 && len(ends) == 1 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	starts, layers, ends := rec.snapshot()
	if len(starts) != 1 || starts[0] != "Test_PLA_0.2.gcode" {
		t.Fatalf("expected one print_start dispatched, got %v", starts)
	}
	if len(layers) != 1 || layers[0] != [2]int{2, 10} {
		t.Fatalf("expected one layer_change(2,10), got %v", layers)
	}
	if len(ends) != 1 || ends[0] != "complete" {
		t.Fatalf("expected one print_end(complete), got %v", ends)
	}
}

func TestClientIgnoresMalformedEvent(t *testing.T) {
	srv := startEchoServer(t, []string{"not json", `{"event":"print_end","reason":"ok"}`})
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	rec := &fakeRecorder{}
	c := New(wsURL, rec)

	stop := make(chan struct{})
	go c.Run(stop)
	defer close(stop)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_, _, ends := rec.snapshot()
		if len(ends) == 1 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	_, _, ends := rec.snapshot()
	if len(ends) != 1 {
		t.Fatalf("expected the valid event after the malformed one to still dispatch, got %v", ends)
	}
}
