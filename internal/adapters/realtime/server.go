// Package realtime serves the duplex WebSocket channel used by terminals and
// live dashboards.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/melih/lighthouse-console/internal/core/domain"
	"github.com/melih/lighthouse-console/internal/core/ports"
)

const defaultWriteTimeout = 10 * time.Second

// Hub is the part of the broadcast hub the server needs.
type Hub interface {
	Register(sub ports.Subscriber)
	Unregister(sub ports.Subscriber)
	Join(id, topic string) error
	Leave(id, topic string)
}

// Server upgrades /ws requests and routes client commands to the terminal
// registry and the hub.
type Server struct {
	sessions     ports.SessionManager
	hub          Hub
	metrics      ports.MetricsReader
	logger       *zap.Logger
	writeTimeout time.Duration
}

// NewServer returns a server that writes with the default 10s deadline.
func NewServer(sessions ports.SessionManager, hub Hub, metrics ports.MetricsReader, logger *zap.Logger) *Server {
	return &Server{
		sessions:     sessions,
		hub:          hub,
		metrics:      metrics,
		logger:       logger.Named("realtime"),
		writeTimeout: defaultWriteTimeout,
	}
}

// Routes returns the handler for the realtime listener.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/ws", s.handleWS)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return r
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := newClient(uuid.NewString(), conn, s.writeTimeout)
	log := s.logger.With(zap.String("conn_id", c.ID()), zap.String("remote", r.RemoteAddr))
	log.Info("client connected")

	s.hub.Register(c)
	defer func() {
		cancel()
		s.hub.Unregister(c)
		if sid := c.session(); sid != "" {
			_ = s.sessions.Close(sid)
		}
		_ = c.Close()
		log.Info("client disconnected")
	}()

	for {
		data, op, err := wsutil.ReadClientData(conn)
		if err != nil {
			var closed wsutil.ClosedError
			if !errors.As(err, &closed) {
				log.Debug("read failed", zap.Error(err))
			}
			return
		}
		switch op {
		case ws.OpText:
			s.dispatch(ctx, c, data)
		case ws.OpBinary:
			s.input(ctx, c, data)
		}
	}
}

// input forwards raw keystrokes to the connection's terminal.
func (s *Server) input(ctx context.Context, c *client, data []byte) {
	sid := c.session()
	if sid == "" {
		s.reply(c, domain.ErrorFrame("no terminal session on this connection"))
		return
	}
	if err := s.sessions.Send(ctx, sid, data); err != nil {
		s.reply(c, domain.ErrorFrame(err.Error()))
	}
}

type connectData struct {
	ContainerID string `json:"containerId"`
	UserID      string `json:"userId"`
	SessionID   string `json:"sessionId"`
}

type commandData struct {
	SessionID string `json:"sessionId"`
	Command   string `json:"command"`
}

type resizeData struct {
	SessionID string `json:"sessionId"`
	Cols      uint   `json:"cols"`
	Rows      uint   `json:"rows"`
}

type sessionData struct {
	SessionID string `json:"sessionId"`
}

type containerData struct {
	ContainerID string `json:"containerId"`
	LegacyID    string `json:"container_id"`
}

func (d containerData) id() string {
	if d.ContainerID != "" {
		return d.ContainerID
	}
	return d.LegacyID
}

func (s *Server) dispatch(ctx context.Context, c *client, raw []byte) {
	var in domain.InboundFrame
	if err := json.Unmarshal(raw, &in); err != nil {
		s.reply(c, domain.ErrorFrame("invalid message"))
		return
	}

	var err error
	switch in.Type {
	case domain.MsgConnect:
		err = s.connect(ctx, c, in.Data)
	case domain.MsgCommand:
		err = s.command(ctx, c, in.Data)
	case domain.MsgResize:
		err = s.resize(ctx, c, in.Data)
	case domain.MsgClose:
		err = s.close(c, in.Data)
	case domain.MsgSubscribeContainer:
		err = s.subscribe(c, in.Data)
	case domain.MsgUnsubscribeContainer:
		err = s.unsubscribe(c, in.Data)
	case domain.MsgGetMetrics:
		err = s.getMetrics(c)
	default:
		err = fmt.Errorf("unknown message type %q", in.Type)
	}
	if err != nil {
		s.reply(c, domain.ErrorFrame(err.Error()))
	}
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid message data: %w", err)
	}
	return nil
}

// ownSession resolves the session a frame refers to. A connection may only
// drive the session it opened.
func ownSession(c *client, requested string) (string, error) {
	sid := c.session()
	if sid == "" {
		return "", errors.New("no terminal session on this connection")
	}
	if requested != "" && requested != sid {
		return "", fmt.Errorf("session %s: %w", requested, domain.ErrNotFound)
	}
	return sid, nil
}

func (s *Server) connect(ctx context.Context, c *client, raw json.RawMessage) error {
	var d connectData
	if err := decode(raw, &d); err != nil {
		return err
	}
	if c.session() != "" {
		return errors.New("terminal already connected on this connection")
	}

	var (
		sid string
		err error
	)
	switch {
	case d.SessionID != "":
		sid = d.SessionID
		err = s.sessions.Attach(ctx, sid, c)
	case d.ContainerID != "":
		sid, err = s.sessions.Open(ctx, d.ContainerID, d.UserID, c)
	default:
		return errors.New("containerId is required")
	}
	if err != nil {
		if errors.Is(err, domain.ErrSpawnFailed) {
			// already reported on the channel, which is now closed
			return nil
		}
		return err
	}

	c.setSession(sid)
	s.reply(c, domain.Frame{Type: domain.MsgConnected, Data: map[string]string{"sessionId": sid}})
	return nil
}

func (s *Server) command(ctx context.Context, c *client, raw json.RawMessage) error {
	var d commandData
	if err := decode(raw, &d); err != nil {
		return err
	}
	sid, err := ownSession(c, d.SessionID)
	if err != nil {
		return err
	}
	if err := s.sessions.Send(ctx, sid, []byte(d.Command)); err != nil {
		return err
	}
	s.reply(c, domain.Frame{Type: domain.MsgCommandSent, Data: map[string]string{"sessionId": sid}})
	return nil
}

func (s *Server) resize(ctx context.Context, c *client, raw json.RawMessage) error {
	var d resizeData
	if err := decode(raw, &d); err != nil {
		return err
	}
	sid, err := ownSession(c, d.SessionID)
	if err != nil {
		return err
	}
	if err := s.sessions.Resize(ctx, sid, d.Cols, d.Rows); err != nil {
		return err
	}
	s.reply(c, domain.Frame{Type: domain.MsgResized, Data: map[string]string{"sessionId": sid}})
	return nil
}

// close ends the terminal session, which also closes this connection.
func (s *Server) close(c *client, raw json.RawMessage) error {
	var d sessionData
	if err := decode(raw, &d); err != nil {
		return err
	}
	sid, err := ownSession(c, d.SessionID)
	if err != nil {
		return err
	}
	return s.sessions.Close(sid)
}

func (s *Server) subscribe(c *client, raw json.RawMessage) error {
	var d containerData
	if err := decode(raw, &d); err != nil {
		return err
	}
	if d.id() == "" {
		return errors.New("containerId is required")
	}
	topic := domain.ContainerTopic(d.id())
	if err := s.hub.Join(c.ID(), topic); err != nil {
		return err
	}
	s.reply(c, domain.Frame{Type: domain.MsgSubscribed, Data: map[string]string{"topic": topic}})
	return nil
}

func (s *Server) unsubscribe(c *client, raw json.RawMessage) error {
	var d containerData
	if err := decode(raw, &d); err != nil {
		return err
	}
	if d.id() == "" {
		return errors.New("containerId is required")
	}
	topic := domain.ContainerTopic(d.id())
	s.hub.Leave(c.ID(), topic)
	s.reply(c, domain.Frame{Type: domain.MsgUnsubscribed, Data: map[string]string{"topic": topic}})
	return nil
}

func (s *Server) getMetrics(c *client) error {
	latest, ok := s.metrics.Latest()
	if !ok {
		return domain.ErrNoSamples
	}
	s.reply(c, domain.Frame{Type: domain.MsgMetrics, Data: map[string]any{
		"metrics": latest,
		"alerts":  s.metrics.CheckAlerts(latest),
		"anomaly": s.metrics.DetectAnomaly(latest),
	}})
	return nil
}

func (s *Server) reply(c *client, frame domain.Frame) {
	if err := c.SendFrame(frame); err != nil {
		s.logger.Debug("reply dropped", zap.String("conn_id", c.ID()), zap.String("type", frame.Type), zap.Error(err))
	}
}
