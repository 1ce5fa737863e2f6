// Package controlplane hosts the daemon's optional HTTP/WebSocket
// status endpoint: a JSON stats snapshot, a health check, and a
// WebSocket stream that fans out the same bus messages
// internal/supervisor classifies plus one stats frame on connect. It
// replaces the teacher's chat websocket fan-out with an
// observability-only one: no rooms, no moderation, a single broadcast
// hub shared by every connected client.
package controlplane

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/signalkeep/relay/internal/graphcore"
	"github.com/signalkeep/relay/internal/observability/metrics"
	"github.com/signalkeep/relay/internal/selector"
	"github.com/signalkeep/relay/internal/serverutil"
)

// Config configures the control plane's HTTP listener.
type Config struct {
	Addr              string
	HeartbeatInterval time.Duration
	ShutdownTimeout   time.Duration
}

// DefaultConfig returns sane defaults; Addr is left blank since an empty
// Addr means the control plane is disabled (cmd/relayd skips constructing
// a Server at all in that case).
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 15 * time.Second,
		ShutdownTimeout:   serverutil.DefaultShutdownTimeout,
	}
}

// Server is the control plane's HTTP server plus WebSocket broadcast hub.
type Server struct {
	cfg      Config
	log      *slog.Logger
	recorder *metrics.Recorder
	graph    *graphcore.Graph
	sel      *selector.Selector
	upgrader websocket.Upgrader

	httpServer *http.Server

	mu      sync.Mutex
	clients map[*hubClient]struct{}

	unsubscribe func()
}

// New builds a Server. graph and sel may be nil in tests that only exercise
// the stats/health endpoints.
func New(cfg Config, recorder *metrics.Recorder, graph *graphcore.Graph, sel *selector.Selector, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.Default()
	}
	s := &Server{
		cfg:      cfg,
		log:      log.With("component", "controlplane"),
		recorder: recorder,
		graph:    graph,
		sel:      sel,
		clients:  make(map[*hubClient]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/ws", s.handleWebSocket)

	s.httpServer = &http.Server{
		Addr:    cfg.Addr,
		Handler: metrics.HTTPMiddleware(recorder, mux),
	}
	return s
}

// Run starts listening and blocks until ctx is cancelled, then shuts down
// gracefully. If bus is non-nil the server also subscribes to it and
// mirrors every message to connected WebSocket clients.
func (s *Server) Run(ctx context.Context, bus *graphcore.Bus) error {
	if bus != nil {
		ch, unsubscribe := bus.Subscribe()
		s.unsubscribe = unsubscribe
		go s.mirrorBus(ch)
	}
	defer func() {
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
	}()

	return serverutil.Run(ctx, serverutil.Config{
		Server:          s.httpServer,
		ShutdownTimeout: s.cfg.ShutdownTimeout,
	})
}

func (s *Server) mirrorBus(ch <-chan graphcore.Message) {
	for msg := range ch {
		payload, err := json.Marshal(wireMessage{
			Type:     "bus-event",
			Severity: msg.Severity.String(),
			Source:   msg.Source,
			Role:     string(msg.Role),
			Text:     msg.Text,
			Error:    errText(msg.Err),
			Time:     msg.Time,
		})
		if err != nil {
			s.log.Error("marshal bus message", "error", err)
			continue
		}
		s.broadcast(payload)
	}
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (s *Server) broadcast(payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- payload:
		default:
			// slow client, drop the frame rather than block the broadcaster
		}
	}
}

func (s *Server) addClient(c *hubClient) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) removeClient(c *hubClient) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.snapshot())
}

type statsSnapshot struct {
	FramesIn        uint64 `json:"framesIn"`
	FramesOut       uint64 `json:"framesOut"`
	FramesRepeated  uint64 `json:"framesRepeated"`
	InSeq           uint64 `json:"inSeq"`
	Rebuilds        uint64 `json:"rebuilds"`
	RebuildFailures uint64 `json:"rebuildFailures"`
	ActiveSink      string `json:"activeSink,omitempty"`
	RebuildPending  bool   `json:"rebuildPending,omitempty"`
}

func (s *Server) snapshot() statsSnapshot {
	framesIn, framesOut, framesRepeated, inSeq := s.recorder.FrameCounts()
	rebuilds, rebuildFailures := s.recorder.Rebuilds()
	snap := statsSnapshot{
		FramesIn:        framesIn,
		FramesOut:       framesOut,
		FramesRepeated:  framesRepeated,
		InSeq:           inSeq,
		Rebuilds:        rebuilds,
		RebuildFailures: rebuildFailures,
	}
	if s.sel != nil {
		snap.ActiveSink = string(s.sel.Active())
	}
	if s.graph != nil {
		snap.RebuildPending = s.graph.RebuildPending()
	}
	return snap
}

type wireMessage struct {
	Type     string    `json:"type"`
	Severity string    `json:"severity,omitempty"`
	Source   string    `json:"source,omitempty"`
	Role     string    `json:"role,omitempty"`
	Text     string    `json:"text,omitempty"`
	Error    string    `json:"error,omitempty"`
	Time     time.Time `json:"time,omitempty"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	c := &hubClient{server: s, conn: conn, send: make(chan []byte, 16)}
	s.addClient(c)

	payload, err := json.Marshal(struct {
		Type  string        `json:"type"`
		Stats statsSnapshot `json:"stats"`
	}{Type: "stats", Stats: s.snapshot()})
	if err == nil {
		select {
		case c.send <- payload:
		default:
		}
	}

	go c.writePump()
	go c.readPump()
}

type hubClient struct {
	server *Server
	conn   *websocket.Conn
	send   chan []byte
	closed sync.Once
}

func (c *hubClient) writePump() {
	interval := c.server.cfg.HeartbeatInterval
	var ticker *time.Ticker
	var tick <-chan time.Time
	if interval > 0 {
		ticker = time.NewTicker(interval)
		tick = ticker.C
		defer ticker.Stop()
	}
	defer c.close()
	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-tick:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *hubClient) readPump() {
	defer c.close()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *hubClient) close() {
	c.closed.Do(func() {
		c.server.removeClient(c)
		_ = c.conn.Close()
	})
}

// Addr reports the configured listen address, mostly useful for tests that
// bind to an ephemeral port.
func (s *Server) Addr() string {
	return strings.TrimSpace(s.cfg.Addr)
}
