package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/line/line-bot-sdk-go/v8/linebot/webhook"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/carpool-matching/internal/dispatch"
	"github.com/example/carpool-matching/internal/events"
	"github.com/example/carpool-matching/internal/models"
)

// EventHandler is the conversation surface the webhook drives.
type EventHandler interface {
	OnTextInput(ctx context.Context, userID, text string) []models.Notification
	OnLocationInput(ctx context.Context, userID string, c models.Coord, hint string) []models.Notification
	HandlePostback(ctx context.Context, userID, data string) []models.Notification
}

// ReadinessCheck is one dependency probed by /ready.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Options struct {
	ChannelSecret string
	OperatorToken string
	CallTimeout   time.Duration
	Handler       EventHandler
	Replier       dispatch.Replier
	Notifier      dispatch.Notifier
	Hub           *events.WSHub
	Checks        []ReadinessCheck
	Logger        *slog.Logger
}

type Server struct {
	opts   Options
	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(opts Options) *Server {
	s := &Server{opts: opts, logger: opts.Logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/callback", s.handleCallback).Methods(http.MethodPost)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.mux.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
	if s.opts.OperatorToken != "" && s.opts.Hub != nil {
		s.mux.HandleFunc("/ws/feed", s.handleFeed)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	cb, err := webhook.ParseRequest(s.opts.ChannelSecret, r)
	if err != nil {
		if errors.Is(err, webhook.ErrInvalidSignature) {
			s.logger.Warn("webhook signature rejected", "remote_addr", remoteIP(r))
		} else {
			s.logger.Warn("webhook body rejected", "error", err)
		}
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	for _, ev := range cb.Events {
		s.handleEvent(ctx, ev)
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleEvent(ctx context.Context, ev webhook.EventInterface) {
	h := s.opts.Handler
	switch e := ev.(type) {
	case webhook.MessageEvent:
		userID := sourceUserID(e.Source)
		if userID == "" {
			return
		}
		var notes []models.Notification
		switch m := e.Message.(type) {
		case webhook.TextMessageContent:
			notes = h.OnTextInput(ctx, userID, m.Text)
		case webhook.LocationMessageContent:
			notes = h.OnLocationInput(ctx, userID, models.Coord{Lon: m.Longitude, Lat: m.Latitude}, m.Address)
		default:
			s.logger.Debug("unsupported message type ignored", "user_id", userID)
			return
		}
		s.deliver(ctx, e.ReplyToken, userID, notes)
	case webhook.PostbackEvent:
		userID := sourceUserID(e.Source)
		if userID == "" || e.Postback == nil {
			return
		}
		s.deliver(ctx, e.ReplyToken, userID, h.HandlePostback(ctx, userID, e.Postback.Data))
	case webhook.FollowEvent:
		userID := sourceUserID(e.Source)
		if userID == "" {
			return
		}
		s.deliver(ctx, e.ReplyToken, userID, h.OnTextInput(ctx, userID, ""))
	default:
		s.logger.Debug("webhook event ignored", "type", ev.GetType())
	}
}

// deliver replies to the event's sender and pushes everything else,
// including whatever did not fit in the reply.
func (s *Server) deliver(ctx context.Context, replyToken, userID string, notes []models.Notification) {
	var own, others []models.Notification
	for _, n := range notes {
		if n.UserID == userID {
			own = append(own, n)
		} else {
			others = append(others, n)
		}
	}
	if s.opts.Replier != nil && len(own) > 0 {
		rest, err := s.opts.Replier.Reply(ctx, replyToken, own)
		if err != nil {
			s.logger.Warn("reply failed, falling back to push", "user_id", userID, "error", err)
		}
		own = rest
	}
	if s.opts.Notifier == nil {
		return
	}
	dispatch.Deliver(ctx, s.opts.Notifier, append(own, others...), s.opts.CallTimeout, s.logger)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	for _, c := range s.opts.Checks {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := c.Check(ctx)
		cancel()
		if err != nil {
			s.logger.Warn("readiness check failed", "dependency", c.Name, "error", err)
			http.Error(w, c.Name+" not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

var upgrader = websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 4096}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token != s.opts.OperatorToken {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("feed upgrade failed", "error", err)
		return
	}
	// the server's read timeout must not end an idle feed
	_ = conn.SetReadDeadline(time.Time{})
	s.opts.Hub.Add(conn)
}

func sourceUserID(src webhook.SourceInterface) string {
	switch v := src.(type) {
	case webhook.UserSource:
		return v.UserId
	case *webhook.UserSource:
		return v.UserId
	}
	return ""
}
