package webui

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/concierge/pkg/chat"
)

// Host is the chat-UI process boundary: it owns the websocket connections
// and the per-conversation fan-out, and drives the controller from HTTP
// requests. Transcript frames travel controller -> pub/sub topic -> reader
// goroutine -> every socket of the conversation, so a slow socket never
// blocks the controller.
type Host struct {
	controller *chat.Controller
	pubsub     *gochannel.GoChannel
	upgrader   websocket.Upgrader

	mu    sync.Mutex
	convs map[string]*liveConv
}

type liveConv struct {
	id     string
	conv   *chat.Conversation
	reader context.CancelFunc

	connsMu sync.Mutex
	conns   map[*websocket.Conn]struct{}
}

// NewHost wires the fan-out machinery around a controller.
func NewHost(controller *chat.Controller) *Host {
	return &Host{
		controller: controller,
		pubsub:     gochannel.NewGoChannel(gochannel.Config{}, newWatermillLogger(log.Logger)),
		upgrader:   websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		convs:      map[string]*liveConv{},
	}
}

// Handler returns the HTTP surface of the chat process.
func (h *Host) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat", h.handleChat)
	mux.HandleFunc("/ws", h.handleWS)
	return mux
}

type chatRequest struct {
	ConvID string `json:"conv_id"`
	UserID string `json:"user_id"`
	Text   string `json:"text"`
	Action string `json:"action"`
}

// handleChat accepts one user message or action. A missing conv_id starts a
// new conversation; DELETE ends one.
func (h *Host) handleChat(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
	case http.MethodDelete:
		h.handleEnd(w, r)
		return
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if req.Text == "" && req.Action == "" {
		http.Error(w, "text or action is required", http.StatusBadRequest)
		return
	}

	lc, err := h.getOrCreateConv(r.Context(), req.ConvID, req.UserID)
	if err != nil {
		if errors.Is(err, errUnknownConversation) {
			http.Error(w, "conversation not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("user_id", req.UserID).Msg("failed to start conversation")
		http.Error(w, "failed to start conversation", http.StatusBadGateway)
		return
	}

	if req.Action != "" {
		err = h.controller.OnAction(r.Context(), lc.conv, req.Action)
	} else {
		err = h.controller.OnUserMessage(r.Context(), lc.conv, req.Text)
	}
	if err != nil {
		log.Error().Err(err).Str("conv_id", lc.id).Msg("message handling failed")
		http.Error(w, "message handling failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"conv_id": lc.id, "status": "ok"})
}

func (h *Host) handleEnd(w http.ResponseWriter, r *http.Request) {
	convID := r.URL.Query().Get("conv_id")
	if convID == "" {
		http.Error(w, "conv_id is required", http.StatusBadRequest)
		return
	}
	if err := h.endConv(r.Context(), convID); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"conv_id": convID, "status": "ended"})
}

// handleWS attaches a socket to an existing conversation's fan-out.
func (h *Host) handleWS(w http.ResponseWriter, r *http.Request) {
	convID := r.URL.Query().Get("conv_id")
	if convID == "" {
		http.Error(w, "conv_id is required", http.StatusBadRequest)
		return
	}
	h.mu.Lock()
	lc, ok := h.convs[convID]
	h.mu.Unlock()
	if !ok {
		http.Error(w, "conversation not found", http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("conv_id", convID).Msg("websocket upgrade failed")
		return
	}
	lc.addConn(conn)
	log.Debug().Str("conv_id", convID).Msg("websocket attached")

	// Reads only serve to detect the peer going away; the UI talks through
	// POST /chat.
	go func() {
		defer lc.removeConn(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

var errUnknownConversation = errors.New("conversation not found")

// getOrCreateConv resolves an existing conversation or starts a new one.
// Ids are server-assigned: a non-empty id that is not live is rejected
// rather than adopted as a caller-chosen name.
func (h *Host) getOrCreateConv(ctx context.Context, convID, userID string) (*liveConv, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if convID != "" {
		if lc, ok := h.convs[convID]; ok {
			return lc, nil
		}
		return nil, errUnknownConversation
	}
	convID = uuid.NewString()

	conv, err := h.controller.OnConversationStart(ctx, userID, newPubTranscript(convID, h.pubsub))
	if err != nil {
		return nil, err
	}
	lc := &liveConv{
		id:    convID,
		conv:  conv,
		conns: map[*websocket.Conn]struct{}{},
	}
	if err := h.startReader(lc); err != nil {
		_ = h.controller.OnConversationEnd(ctx, conv)
		return nil, err
	}
	h.convs[convID] = lc
	log.Info().Str("conv_id", convID).Str("user_id", userID).Msg("conversation attached")
	return lc, nil
}

// startReader subscribes to the conversation topic and forwards every frame
// to the attached sockets.
func (h *Host) startReader(lc *liveConv) error {
	readCtx, cancel := context.WithCancel(context.Background())
	ch, err := h.pubsub.Subscribe(readCtx, topicFor(lc.id))
	if err != nil {
		cancel()
		return errors.Wrap(err, "subscribe to conversation topic")
	}
	lc.reader = cancel
	go func() {
		for msg := range ch {
			lc.broadcast(msg.Payload)
			msg.Ack()
		}
		log.Debug().Str("conv_id", lc.id).Msg("conversation reader stopped")
	}()
	return nil
}

func (h *Host) endConv(ctx context.Context, convID string) error {
	h.mu.Lock()
	lc, ok := h.convs[convID]
	if ok {
		delete(h.convs, convID)
	}
	h.mu.Unlock()
	if !ok {
		return errors.Errorf("conversation %s not found", convID)
	}

	if err := h.controller.OnConversationEnd(ctx, lc.conv); err != nil {
		log.Error().Err(err).Str("conv_id", convID).Msg("conversation teardown failed")
	}
	lc.reader()
	lc.closeAll()
	log.Info().Str("conv_id", convID).Msg("conversation ended")
	return nil
}

// Close ends every live conversation. Used at shutdown.
func (h *Host) Close(ctx context.Context) {
	h.mu.Lock()
	ids := make([]string, 0, len(h.convs))
	for id := range h.convs {
		ids = append(ids, id)
	}
	h.mu.Unlock()
	for _, id := range ids {
		_ = h.endConv(ctx, id)
	}
	_ = h.pubsub.Close()
}

func (lc *liveConv) addConn(conn *websocket.Conn) {
	lc.connsMu.Lock()
	lc.conns[conn] = struct{}{}
	lc.connsMu.Unlock()
}

func (lc *liveConv) removeConn(conn *websocket.Conn) {
	lc.connsMu.Lock()
	delete(lc.conns, conn)
	lc.connsMu.Unlock()
	_ = conn.Close()
}

func (lc *liveConv) broadcast(data []byte) {
	lc.connsMu.Lock()
	defer lc.connsMu.Unlock()
	for conn := range lc.conns {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Warn().Err(err).Str("conv_id", lc.id).Msg("websocket write failed, dropping connection")
			delete(lc.conns, conn)
			_ = conn.Close()
		}
	}
}

func (lc *liveConv) closeAll() {
	lc.connsMu.Lock()
	defer lc.connsMu.Unlock()
	for conn := range lc.conns {
		_ = conn.Close()
		delete(lc.conns, conn)
	}
}
