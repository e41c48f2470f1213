// Package server publishes the ordered history over HTTP and pushes updates
// to websocket clients whenever branch tips change.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rybkr/topoorder/internal/gitcore"
	"github.com/rybkr/topoorder/internal/pipeline"
)

const (
	broadcastQueueSize = 64
	writeWait          = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// TODO(rybkr): Restrict origins once the server is reachable off localhost.
		return true
	},
}

type MessageType string

const (
	MessageTypeOrder MessageType = "order"
	MessageTypeError MessageType = "error"
)

type UpdateMessage struct {
	Type MessageType `json:"type"`
	Data interface{} `json:"data"`
}

// Options configure a Server. Zero values fall back to defaults.
type Options struct {
	Addr       string
	Debounce   time.Duration
	PollPeriod time.Duration // 0 disables polling
	Logger     *log.Logger
}

// client serializes writes; gorilla connections allow one writer at a time.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) send(msg UpdateMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(msg)
}

type Server struct {
	repo       *gitcore.Repository
	addr       string
	debounce   time.Duration
	pollPeriod time.Duration
	logger     *log.Logger
	metrics    *Metrics

	// refreshMu is held for a whole rescan.
	refreshMu sync.Mutex

	mu     sync.RWMutex
	cached *pipeline.Result

	clientsMu sync.RWMutex
	clients   map[*client]bool
	broadcast chan UpdateMessage

	ctx context.Context
	wg  sync.WaitGroup
}

func NewServer(repo *gitcore.Repository, opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 100 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	return &Server{
		repo:       repo,
		addr:       opts.Addr,
		debounce:   opts.Debounce,
		pollPeriod: opts.PollPeriod,
		logger:     opts.Logger,
		metrics:    newMetrics(),
		clients:    make(map[*client]bool),
		broadcast:  make(chan UpdateMessage, broadcastQueueSize),
		ctx:        context.Background(),
	}
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/order", s.handleOrder)
	mux.HandleFunc("GET /api/repository", s.handleRepository)
	mux.HandleFunc("GET /api/ws", s.handleWebSocket)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))
	return mux
}

// Start scans the repository once, then serves until ctx is done. A failed
// first scan is returned; later failures are logged and the last good order
// stays published.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Refresh(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.ctx = ctx

	s.wg.Add(1)
	go s.handleBroadcast()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := Watch(ctx, s.repo.GitDir(), s.debounce, s.logger, s.refreshLogged); err != nil {
			s.logger.Error("watcher stopped", "err", err)
		}
	}()

	if s.pollPeriod > 0 {
		s.wg.Add(1)
		go s.pollRepo()
	}

	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("serving topological order", "addr", s.addr)
		errCh <- httpServer.ListenAndServe()
	}()

	var err error
	select {
	case <-ctx.Done():
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		err = httpServer.Shutdown(shutdownCtx)
	case err = <-errCh:
		cancel()
	}

	s.closeClients()
	s.wg.Wait()

	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// handleBroadcast fans messages out to every connected client.
func (s *Server) handleBroadcast() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.broadcast:
			s.clientsMu.RLock()
			var failed []*client
			for c := range s.clients {
				if err := c.send(msg); err != nil {
					s.logger.Debug("error broadcasting to client", "err", err)
					failed = append(failed, c)
				}
			}
			s.clientsMu.RUnlock()

			for _, c := range failed {
				s.removeClient(c)
			}
		}
	}
}

// broadcastUpdate queues msg without blocking the caller.
func (s *Server) broadcastUpdate(msgType MessageType, data interface{}) {
	select {
	case s.broadcast <- UpdateMessage{Type: msgType, Data: data}:
	default:
		s.metrics.Dropped.Inc()
		s.logger.Warn("broadcast channel full, dropping message")
	}
}

func (s *Server) addClient(c *client) int {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	s.clients[c] = true
	s.metrics.Clients.Set(float64(len(s.clients)))
	return len(s.clients)
}

func (s *Server) removeClient(c *client) int {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	if s.clients[c] {
		delete(s.clients, c)
		c.conn.Close()
	}
	s.metrics.Clients.Set(float64(len(s.clients)))
	return len(s.clients)
}

func (s *Server) closeClients() {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for c := range s.clients {
		c.conn.Close()
		delete(s.clients, c)
	}
	s.metrics.Clients.Set(0)
}
