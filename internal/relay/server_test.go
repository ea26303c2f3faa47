package relay_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"novel-client/internal/client"
	"novel-client/internal/orchestrator"
	"novel-client/internal/relay"
	"novel-client/internal/resume"
)

// instantStreamer мгновенно завершает каждый шаг.
type instantStreamer struct {
	mu    sync.Mutex
	calls int
}

func (s *instantStreamer) Stream(ctx context.Context, endpoint string, body interface{}, handlers client.StreamHandlers) error {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if handlers.OnResult != nil {
		handlers.OnResult(json.RawMessage(`{}`))
	}
	if handlers.OnComplete != nil {
		handlers.OnComplete()
	}
	return nil
}

// nullStore — хранилище маркеров, которое ничего не хранит.
type nullStore struct{}

func (nullStore) Save(ctx context.Context, marker resume.Marker) error { return nil }
func (nullStore) Load(ctx context.Context, projectID string) (*resume.Marker, error) {
	return nil, resume.ErrMarkerNotFound
}
func (nullStore) Clear(ctx context.Context, projectID string) error { return nil }

func newTestServer(t *testing.T) (*httptest.Server, *relay.Hub, *relay.RunManager) {
	t.Helper()

	hub := relay.NewHub(nil)
	orch, err := orchestrator.New(&instantStreamer{}, nil, nullStore{}, nil,
		orchestrator.WithObserver(hub.Publish),
	)
	require.NoError(t, err)

	manager := relay.NewRunManager(orch, nil)
	server := relay.NewServer(manager, hub, nil)
	ts := httptest.NewServer(server.Router(nil))
	t.Cleanup(ts.Close)
	return ts, hub, manager
}

func TestServer_StateUnknownProject(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/projects/unknown/generation/state")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_StartRunAndReadState(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/projects/p1/generation", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	// Шаги мгновенные: дожидаемся завершения прогона.
	require.Eventually(t, func() bool {
		resp, err := http.Get(ts.URL + "/api/projects/p1/generation/state")
		if err != nil {
			return false
		}
		defer resp.Body.Close()

		var state relay.RunState
		if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
			return false
		}
		return !state.Active && state.Steps[orchestrator.StepOutline] == orchestrator.StateCompleted
	}, 3*time.Second, 20*time.Millisecond)
}

func TestServer_HealthEndpoint(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// Событие, опубликованное в хаб, доезжает до SSE-подписчика консоли.
func TestServer_EventsRelayedOverSSE(t *testing.T) {
	ts, hub, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/projects/p9/generation/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Даем подписке зарегистрироваться, затем публикуем.
	go func() {
		time.Sleep(100 * time.Millisecond)
		hub.Publish(orchestrator.ProgressEvent{
			ProjectID: "p9",
			Step:      orchestrator.StepWorld,
			State:     orchestrator.StateProcessing,
			Message:   "drafting",
			Percent:   10,
		})
	}()

	reader := bufio.NewReader(resp.Body)
	deadline := time.After(3 * time.Second)
	lines := make(chan string, 16)
	go func() {
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				close(lines)
				return
			}
			lines <- line
		}
	}()

	var sawEvent, sawData bool
	for !(sawEvent && sawData) {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatal("stream closed before event arrived")
			}
			if strings.HasPrefix(line, "event:") && strings.Contains(line, "progress") {
				sawEvent = true
			}
			if strings.HasPrefix(line, "data:") && strings.Contains(line, "drafting") {
				sawData = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for relayed SSE event")
		}
	}
}

func TestServer_RetryWithoutRunIsNotFound(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/projects/nope/generation/retry", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
