// Package opsserver exposes a narrow, internal operator-facing status
// surface: connected peers, subscription health, and stream progress,
// plus a websocket feed of live lifecycle events. This is ambient
// observability tooling, not the chain-facing REST API spec.md's
// non-goals exclude (see SPEC_FULL.md §1's narrow reading) -- the
// teacher already carried an HTTP surface (labstack/echo) and a
// websocket one (gorilla/websocket) for an analogous purpose, narrowed
// here to plain JSON handlers instead of the teacher's GraphQL schema.
package opsserver

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/harmony-bft/node/internal/metadata"
	"github.com/harmony-bft/node/internal/subscription"
)

// PeerView renders one connected peer for the /peers endpoint.
type PeerView struct {
	Network string `json:"network"`
	PeerID  string `json:"peer_id"`
	Origin  string `json:"origin"`
	Role    string `json:"role"`
}

// StreamProgress renders one running stream's position for the
// /streams endpoint.
type StreamProgress struct {
	Kind             string `json:"kind"`
	NextStreamIndex  uint64 `json:"next_stream_index"`
	NextRequestIndex uint64 `json:"next_request_index"`
	Complete         bool   `json:"complete"`
}

// StreamProgressSource is implemented by whatever owns a running
// Driver/Engine pair; declared narrowly here so opsserver never
// imports internal/streaming's full surface.
type StreamProgressSource interface {
	StreamProgress() []StreamProgress
}

// Server is the ops HTTP+websocket surface. Grounded on the teacher's
// go.mod carrying labstack/echo/v4 and gorilla/websocket for its own
// (GraphQL-backed) API surface; this narrows both to a status-only
// use.
type Server struct {
	echo     *echo.Echo
	log      *logrus.Entry
	peers    *metadata.PeersAndMetadata
	subs     *subscription.Manager
	streams  StreamProgressSource
	upgrader websocket.Upgrader

	// instanceID distinguishes this process's ops surface from another
	// restart of the same node in aggregated operator tooling -- a
	// random v4 UUID rather than anything derived from peer identity,
	// since it names the process, not the chain participant.
	instanceID uuid.UUID
	startedAt  time.Time

	mu  sync.Mutex
	hub map[*websocket.Conn]struct{}
}

// New builds a Server. streams may be nil if no stream engines are
// wired yet.
func New(log *logrus.Entry, peers *metadata.PeersAndMetadata, subs *subscription.Manager, streams StreamProgressSource) *Server {
	s := &Server{
		echo:       echo.New(),
		log:        log.WithField("component", "opsserver"),
		peers:      peers,
		subs:       subs,
		streams:    streams,
		upgrader:   websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }},
		instanceID: uuid.New(),
		startedAt:  time.Now().UTC(),
		hub:        make(map[*websocket.Conn]struct{}),
	}
	s.echo.HideBanner = true
	s.echo.GET("/status", s.handleStatus)
	s.echo.GET("/peers", s.handlePeers)
	s.echo.GET("/subscriptions", s.handleSubscriptions)
	s.echo.GET("/streams", s.handleStreams)
	s.echo.GET("/events", s.handleEvents)
	return s
}

// handleStatus reports this process's identity and uptime -- the first
// thing an operator checks when aggregating status across node
// restarts.
func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"instance_id":   s.instanceID.String(),
		"started_at":    s.startedAt,
		"uptime_secs":   time.Since(s.startedAt).Seconds(),
		"peers":         s.peers.Len(),
		"subscriptions": s.subs.ActiveCount(),
	})
}

// Start serves on addr until the process exits or Shutdown is called.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully stops the HTTP surface.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handlePeers(c echo.Context) error {
	snapshot := s.peers.Snapshot()
	views := make([]PeerView, 0, len(snapshot))
	for key, entry := range snapshot {
		views = append(views, PeerView{
			Network: key.Network.String(),
			PeerID:  key.ID.String(),
			Origin:  entry.Connection.Origin.String(),
			Role:    entry.Connection.Role.String(),
		})
	}
	return c.JSON(http.StatusOK, views)
}

func (s *Server) handleSubscriptions(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]int{"active": s.subs.ActiveCount()})
}

func (s *Server) handleStreams(c echo.Context) error {
	if s.streams == nil {
		return c.JSON(http.StatusOK, []StreamProgress{})
	}
	return c.JSON(http.StatusOK, s.streams.StreamProgress())
}

// handleEvents upgrades to a websocket and registers the connection in
// the broadcast hub; Broadcast pushes JSON-encoded events to every
// registered connection. Mirrors the teacher's go.mod-carried
// gorilla/websocket upgrade pattern.
func (s *Server) handleEvents(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.hub[conn] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.hub, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	// Drain and discard inbound frames; this is a push-only feed. The
	// read loop's only job is to notice the client going away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return nil
		}
	}
}

// Broadcast pushes event, JSON-encoded, to every currently-connected
// /events client. Best effort: a write failure just drops that
// connection from the hub on its next read error.
func (s *Server) Broadcast(event interface{}) {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.hub))
	for c := range s.hub {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		if err := c.WriteJSON(event); err != nil {
			s.log.WithError(err).Debug("failed to push event to ops client")
		}
	}
}
