// Package websocket accepts wrench commands over WebSocket and publishes each
// decoded message as one event on the bus channel named by the client.
package websocket

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zeusync/forcebridge/internal/core/events/bus"
	"github.com/zeusync/forcebridge/internal/core/observability/log"
	"github.com/zeusync/forcebridge/internal/core/wrench"
)

// ChannelParam is the query parameter naming the bus channel for a connection.
const ChannelParam = "channel"

const shutdownTimeout = 5 * time.Second

// Publisher is the part of the bus the ingress needs.
type Publisher interface {
	Publish(event bus.Event) error
}

// Config holds ingress settings.
type Config struct {
	Listen    string
	Path      string
	ReadLimit int64
}

// Stats are monotonically increasing counters, except Connections. Published
// counts frames every handler accepted; Failed counts frames a handler
// returned an error for.
type Stats struct {
	Connections uint64
	Frames      uint64
	Published   uint64
	Failed      uint64
	Malformed   uint64
}

// Ingress is an http.Handler that upgrades connections and turns frames into
// bus events. Malformed frames are dropped; the connection stays open.
type Ingress struct {
	config    Config
	publisher Publisher
	logger    log.Log
	upgrader  websocket.Upgrader

	mu    sync.Mutex
	conns map[string]*websocket.Conn

	frames    atomic.Uint64
	published atomic.Uint64
	failed    atomic.Uint64
	malformed atomic.Uint64
}

var _ http.Handler = (*Ingress)(nil)

// NewIngress creates an ingress publishing to publisher.
func NewIngress(config Config, publisher Publisher, logger log.Log) *Ingress {
	return &Ingress{
		config:    config,
		publisher: publisher,
		logger:    logger.With(log.String("component", "ws_ingress")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns: make(map[string]*websocket.Conn),
	}
}

// Handler returns a mux serving the ingress on the configured path.
func (i *Ingress) Handler() http.Handler {
	mux := http.NewServeMux()
	path := i.config.Path
	if path == "" {
		path = "/"
	}
	mux.Handle(path, i)
	return mux
}

// Run listens on the configured address until ctx is cancelled.
func (i *Ingress) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", i.config.Listen)
	if err != nil {
		return err
	}
	return i.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts the
// server down and closes every open WebSocket.
func (i *Ingress) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           i.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		i.logger.Info("websocket ingress listening",
			log.String("addr", ln.Addr().String()),
			log.String("path", i.config.Path),
		)
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	i.closeAll()
	<-errCh
	i.logger.Info("websocket ingress stopped")
	return err
}

func (i *Ingress) Stats() Stats {
	i.mu.Lock()
	n := len(i.conns)
	i.mu.Unlock()
	return Stats{
		Connections: uint64(n),
		Frames:      i.frames.Load(),
		Published:   i.published.Load(),
		Failed:      i.failed.Load(),
		Malformed:   i.malformed.Load(),
	}
}

func (i *Ingress) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	channel := r.URL.Query().Get(ChannelParam)
	if channel == "" {
		http.Error(w, "missing channel parameter", http.StatusBadRequest)
		return
	}

	conn, err := i.upgrader.Upgrade(w, r, nil)
	if err != nil {
		i.logger.Warn("websocket upgrade failed", log.Error(err))
		return
	}
	if i.config.ReadLimit > 0 {
		conn.SetReadLimit(i.config.ReadLimit)
	}

	id := uuid.NewString()
	i.track(id, conn)
	defer i.untrack(id)

	logger := i.logger.With(
		log.String("conn", id),
		log.String("remote", conn.RemoteAddr().String()),
		log.String("channel", channel),
	)
	logger.Debug("websocket client connected")

	i.readLoop(conn, id, channel, logger)
}

func (i *Ingress) readLoop(conn *websocket.Conn, id, channel string, logger log.Log) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("websocket read failed", log.Error(err))
			}
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		i.frames.Add(1)

		msg, err := wrench.Decode(data)
		if err != nil {
			i.malformed.Add(1)
			logger.Debug("dropping malformed wrench message", log.Error(err))
			continue
		}

		if err = i.publisher.Publish(bus.NewEvent(channel, id, msg)); err != nil {
			if errors.Is(err, bus.ErrBusClosed) {
				return
			}
			i.failed.Add(1)
			logger.Debug("wrench delivery reported an error", log.Error(err))
			continue
		}
		i.published.Add(1)
	}
}

func (i *Ingress) track(id string, conn *websocket.Conn) {
	i.mu.Lock()
	i.conns[id] = conn
	i.mu.Unlock()
}

func (i *Ingress) untrack(id string) {
	i.mu.Lock()
	conn, ok := i.conns[id]
	delete(i.conns, id)
	i.mu.Unlock()
	if ok {
		_ = conn.Close()
	}
}

func (i *Ingress) closeAll() {
	i.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(i.conns))
	for _, c := range i.conns {
		conns = append(conns, c)
	}
	i.mu.Unlock()

	deadline := time.Now().Add(time.Second)
	for _, c := range conns {
		_ = c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), deadline)
		_ = c.Close()
	}
}
