package webhook

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/go-go-golems/concierge/pkg/queue"
	"github.com/go-go-golems/concierge/pkg/session"
)

// Message is the inbound payload posted by the agent platform's outgoing
// webhook for every message in a watched room.
type Message struct {
	Token     string `json:"token"`
	Text      string `json:"text"`
	UserName  string `json:"user_name"`
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
	Timestamp string `json:"timestamp"`
}

// Options configures the webhook receiver.
type Options struct {
	Environment string
	// Token is the shared secret the agent platform includes in every
	// payload.
	Token        string
	StreamMaxLen int64
	// RateLimit/RateBurst bound per-client-IP request rates. Zero disables
	// limiting.
	RateLimit float64
	RateBurst int
}

// Server routes agent replies from the platform's outgoing webhook into the
// stream queue of the matching conversation. It shares no in-process state
// with the chat process; the queue store is the only channel between them.
type Server struct {
	opts   Options
	queues *queue.Store
	echo   *echo.Echo

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewServer wires the HTTP surface.
func NewServer(opts Options, queues *queue.Store) *Server {
	if opts.StreamMaxLen <= 0 {
		opts.StreamMaxLen = 1000
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		opts:     opts,
		queues:   queues,
		echo:     e,
		limiters: map[string]*rate.Limiter{},
	}

	e.GET("/healthz", s.handleHealthz)
	e.POST("/webhook", s.handleWebhook, s.rateLimit)
	return s
}

// Handler exposes the routed handler for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	log.Info().Str("addr", addr).Msg("webhook receiver listening")
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleHealthz(c echo.Context) error {
	if err := s.queues.Ping(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}

// handleWebhook validates, filters and enqueues one agent message. Messages
// carrying our own outbound markers are echoes of something this system
// posted; they are accepted and dropped so the two platforms cannot feed
// each other in a loop.
func (s *Server) handleWebhook(c echo.Context) error {
	var msg Message
	if err := c.Bind(&msg); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "malformed payload"})
	}
	if msg.Token == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing token"})
	}
	if msg.Token != s.opts.Token {
		return c.JSON(http.StatusForbidden, map[string]string{"error": "invalid token"})
	}

	if err := s.queues.Ping(c.Request().Context()); err != nil {
		log.Error().Err(err).Msg("queue store unreachable")
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "queue store unavailable"})
	}

	for _, marker := range session.EchoMarkers() {
		if strings.Contains(msg.Text, marker) {
			log.Debug().Str("message_id", msg.MessageID).Msg("dropping self-authored echo")
			return c.JSON(http.StatusOK, map[string]string{"status": "ignored"})
		}
	}

	name := queue.AgentStreamQueue(s.opts.Environment, msg.UserName, msg.ChannelID)
	formatted := fmt.Sprintf("**Support agent %s:\n%s", msg.UserName, msg.Text)
	if id := s.queues.Stream(name, s.opts.StreamMaxLen).Enqueue(c.Request().Context(), formatted); id == "" {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "enqueue failed"})
	}

	log.Info().
		Str("queue", name).
		Str("agent", msg.UserName).
		Str("room_id", msg.ChannelID).
		Msg("agent message enqueued")
	return c.JSON(http.StatusOK, map[string]string{"status": "success"})
}

// rateLimit applies a per-client-IP token bucket.
func (s *Server) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.opts.RateLimit <= 0 {
			return next(c)
		}
		if !s.limiterFor(c.RealIP()).Allow() {
			return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
		}
		return next(c)
	}
}

func (s *Server) limiterFor(ip string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[ip]
	if !ok {
		l = rate.NewLimiter(rate.Limit(s.opts.RateLimit), s.opts.RateBurst)
		s.limiters[ip] = l
	}
	return l
}
