package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rybkr/topoorder/internal/gitcore"
	"github.com/rybkr/topoorder/internal/pipeline"
	"github.com/rybkr/topoorder/internal/render"
	"github.com/rybkr/topoorder/internal/testrepo"
)

func newTestServer(t *testing.T) (*Server, *testrepo.Repo, string) {
	t.Helper()

	fx := testrepo.New(t)
	root := fx.Commit()
	tip := fx.Commit(root)
	fx.Branch("main", tip)

	repo, err := gitcore.NewRepository(fx.Dir)
	require.NoError(t, err)

	s := NewServer(repo, Options{Logger: log.New(io.Discard)})
	require.NoError(t, s.Refresh())
	return s, fx, tip
}

func TestHandleOrder(t *testing.T) {
	s, _, tip := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/order", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var result pipeline.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Len(t, result.Entries, 2)
	assert.Equal(t, gitcore.Hash(tip), result.Entries[0].ID)
	assert.Equal(t, []string{"main"}, result.Entries[0].Labels)
}

func TestHandleOrderBeforeScan(t *testing.T) {
	fx := testrepo.New(t)
	repo, err := gitcore.NewRepository(fx.Dir)
	require.NoError(t, err)
	s := NewServer(repo, Options{Logger: log.New(io.Discard)})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/order", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `topo_order_rebuilds_total{result="ok"} 1`)
	assert.Contains(t, rec.Body.String(), "topo_order_commits 2")
}

func TestRefreshKeepsLastGoodOrder(t *testing.T) {
	s, fx, tip := newTestServer(t)

	fx.Branch("broken", testrepo.MissingID())
	require.ErrorIs(t, s.Refresh(), gitcore.ErrObjectNotFound)

	s.mu.RLock()
	defer s.mu.RUnlock()
	require.NotNil(t, s.cached)
	assert.Equal(t, gitcore.Hash(tip), s.cached.Entries[0].ID)
}

func TestWebSocketInitialState(t *testing.T) {
	s, _, tip := newTestServer(t)

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg struct {
		Type MessageType     `json:"type"`
		Data pipeline.Result `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MessageTypeOrder, msg.Type)
	require.NotEmpty(t, msg.Data.Entries)
	assert.Equal(t, gitcore.Hash(tip), msg.Data.Entries[0].ID)
}

func TestConcurrentRefreshPublishesLatest(t *testing.T) {
	s, fx, tip := newTestServer(t)
	next := fx.Commit(tip)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < 5; j++ {
				s.Refresh()
			}
		}()
	}

	close(start)
	fx.Branch("main", next)
	require.NoError(t, s.Refresh())
	wg.Wait()

	// Scans run one at a time, so the last one to finish read the moved
	// branch.
	s.mu.RLock()
	defer s.mu.RUnlock()
	require.NotNil(t, s.cached)
	require.Len(t, s.cached.Entries, 3)
	assert.Equal(t, gitcore.Hash(next), s.cached.Entries[0].ID)
	assert.Equal(t, []string{"main"}, s.cached.Entries[0].Labels)
}

func TestWebSocketReceivesUpdatesAfterInitialState(t *testing.T) {
	s, fx, tip := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	s.ctx = ctx
	s.wg.Add(1)
	go s.handleBroadcast()
	defer func() {
		cancel()
		s.wg.Wait()
	}()

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	type orderMessage struct {
		Type MessageType     `json:"type"`
		Data pipeline.Result `json:"data"`
	}
	var first orderMessage
	require.NoError(t, conn.ReadJSON(&first))
	require.NotEmpty(t, first.Data.Entries)
	assert.Equal(t, gitcore.Hash(tip), first.Data.Entries[0].ID)

	require.Eventually(t, func() bool {
		s.clientsMu.RLock()
		defer s.clientsMu.RUnlock()
		return len(s.clients) == 1
	}, 5*time.Second, 10*time.Millisecond)

	next := fx.Commit(tip)
	fx.Branch("main", next)
	require.NoError(t, s.Refresh())

	// Queued copies of the first order may arrive before the update; the
	// client must end on the newer one.
	for {
		var msg orderMessage
		require.NoError(t, conn.ReadJSON(&msg))
		require.Equal(t, MessageTypeOrder, msg.Type)
		require.NotEmpty(t, msg.Data.Entries)
		if msg.Data.Entries[0].ID == gitcore.Hash(next) {
			break
		}
		require.Equal(t, gitcore.Hash(tip), msg.Data.Entries[0].ID)
	}
}

func TestResultsEqual(t *testing.T) {
	a := &pipeline.Result{Entries: []render.Entry{{ID: "a"}}, Elapsed: time.Second}
	b := &pipeline.Result{Entries: []render.Entry{{ID: "a"}}, Elapsed: time.Minute}
	c := &pipeline.Result{Entries: []render.Entry{{ID: "b"}}}

	assert.True(t, resultsEqual(a, b))
	assert.False(t, resultsEqual(a, c))
	assert.False(t, resultsEqual(nil, a))
	assert.True(t, resultsEqual(nil, nil))
}

func TestShouldIgnoreEvent(t *testing.T) {
	gitDir := "/repo/.git"
	tests := []struct {
		name   string
		event  fsnotify.Event
		ignore bool
	}{
		{"branch write", fsnotify.Event{Name: "/repo/.git/refs/heads/main", Op: fsnotify.Write}, false},
		{"branch removed", fsnotify.Event{Name: "/repo/.git/refs/heads/old", Op: fsnotify.Remove}, false},
		{"lock file", fsnotify.Event{Name: "/repo/.git/refs/heads/main.lock", Op: fsnotify.Create}, true},
		{"packed refs", fsnotify.Event{Name: "/repo/.git/packed-refs", Op: fsnotify.Create}, false},
		{"index", fsnotify.Event{Name: "/repo/.git/index", Op: fsnotify.Write}, true},
		{"chmod", fsnotify.Event{Name: "/repo/.git/refs/heads/main", Op: fsnotify.Chmod}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.ignore, shouldIgnoreEvent(tt.event, gitDir))
		})
	}
}

func TestWatchFiresOnBranchChange(t *testing.T) {
	fx := testrepo.New(t)
	tip := fx.Commit()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fired := make(chan struct{}, 1)
	ready := make(chan error, 1)
	go func() {
		ready <- Watch(ctx, fx.GitDir, 10*time.Millisecond, log.New(io.Discard), func() {
			select {
			case fired <- struct{}{}:
			default:
			}
		})
	}()

	// Give the watcher time to register before touching refs.
	time.Sleep(100 * time.Millisecond)
	fx.Branch("main", tip)

	select {
	case <-fired:
	case err := <-ready:
		t.Fatalf("watcher exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatalf("expected change notification for %s", filepath.Join("refs", "heads", "main"))
	}
}
