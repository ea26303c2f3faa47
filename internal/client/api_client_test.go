package client_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"novel-client/internal/client"
)

// rotatingTokenProvider отдает текущий токен, а после Refresh — обновленный.
type rotatingTokenProvider struct {
	mu      sync.Mutex
	current string
}

func (p *rotatingTokenProvider) AccessToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current, nil
}

func (p *rotatingTokenProvider) Refresh(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = "fresh"
	return p.current, nil
}

func TestGetGenerationStatus_ReturnsServerState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/projects/p1/generation/status", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"project_id":"p1","current_step":"characters","completed_steps":2,"status":"processing"}`))
	}))
	defer srv.Close()

	api, err := client.NewProjectAPIClient(srv.URL, 5*time.Second, nil, client.StaticTokenProvider("t"))
	require.NoError(t, err)

	status, err := api.GetGenerationStatus(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, status.CompletedSteps)
	assert.Equal(t, "characters", status.CurrentStep)
}

// Повтор PUT после 401 должен нести то же тело, что и первый запрос:
// первый Do уже вычитал Body, и без перемотки повтор ушел бы пустым.
func TestUpdatePromptTemplate_RetryAfterUnauthorizedResendsBody(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []string
		auths  []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)

		mu.Lock()
		bodies = append(bodies, string(body))
		auths = append(auths, r.Header.Get("Authorization"))
		attempt := len(bodies)
		mu.Unlock()

		if attempt == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tokens := &rotatingTokenProvider{current: "stale"}
	api, err := client.NewProjectAPIClient(srv.URL, 5*time.Second, nil, tokens)
	require.NoError(t, err)

	tpl := client.PromptTemplate{ID: "world", Name: "World", Content: "Describe the {{genre}} world"}
	require.NoError(t, api.UpdatePromptTemplate(context.Background(), tpl))

	expected, err := json.Marshal(tpl)
	require.NoError(t, err)

	require.Len(t, bodies, 2)
	assert.Equal(t, string(expected), bodies[0])
	assert.Equal(t, string(expected), bodies[1])
	assert.Equal(t, "Bearer stale", auths[0])
	assert.Equal(t, "Bearer fresh", auths[1])
}
