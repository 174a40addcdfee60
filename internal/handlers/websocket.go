package handlers

import (
	"context"
	"encoding/json"
	"image"
	"net/http"
	"sync"

	"doodle-sync-backend/internal/blob"
	"doodle-sync-backend/internal/glance"
	"doodle-sync-backend/internal/models"
	"doodle-sync-backend/internal/render"
	"doodle-sync-backend/internal/repository"
	"doodle-sync-backend/internal/services"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// rasterRenderSide is the output size for server-side raster renders
// attached to a send when the client requests one.
const rasterRenderSide = 1024

// WSMessage represents a WebSocket message in either direction
type WSMessage struct {
	Type         string                  `json:"type"`
	Code         string                  `json:"code,omitempty"`
	VectorBytes  []byte                  `json:"vector_bytes,omitempty"`
	UploadRaster bool                    `json:"upload_raster,omitempty"`
	Paired       *bool                   `json:"paired,omitempty"`
	InviteCode   string                  `json:"invite_code,omitempty"`
	Partner      *models.User            `json:"partner,omitempty"`
	Drawing      *models.DrawingRecord   `json:"drawing,omitempty"`
	Drawings     []*models.DrawingRecord `json:"drawings,omitempty"`
	Message      string                  `json:"message,omitempty"`
}

// WebSocketHandler attaches one session per connected user: the pairing
// coordinator and drawing exchange live for the lifetime of the socket.
type WebSocketHandler struct {
	registry *services.SessionRegistry
	identity *services.IdentityService
	store    repository.Store
	blobs    blob.Store
	cache    *glance.Cache
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(
	registry *services.SessionRegistry,
	identity *services.IdentityService,
	store repository.Store,
	blobs blob.Store,
	cache *glance.Cache,
) *WebSocketHandler {
	return &WebSocketHandler{
		registry: registry,
		identity: identity,
		store:    store,
		blobs:    blobs,
		cache:    cache,
	}
}

type session struct {
	userID string
	conn   *websocket.Conn

	ctx    context.Context
	cancel context.CancelFunc

	pairing  *services.PairingCoordinator
	exchange *services.DrawingExchange

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// Close tears the session down: watches and subscriptions first, then the
// socket. Safe to call from the registry when a newer session replaces
// this one.
func (s *session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.pairing.Close()
		s.exchange.Close()
		s.conn.Close()
	})
}

func (s *session) write(msg WSMessage) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(msg); err != nil {
		log.Debug().Err(err).Str("user_id", s.userID).Msg("WebSocket write failed")
	}
}

func (s *session) writeError(message string) {
	s.write(WSMessage{Type: "error", Message: message})
}

// HandleWebSocket handles GET /ws?token=
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		respondError(w, "token required", http.StatusUnauthorized)
		return
	}
	userID, err := h.identity.ValidateJWT(token)
	if err != nil {
		respondError(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess := &session{userID: userID, conn: conn, ctx: ctx, cancel: cancel}

	sess.exchange = services.NewDrawingExchange(h.store, h.blobs, h.cache, nil,
		func(snapshot []*models.DrawingRecord) {
			sess.write(WSMessage{Type: "drawings", Drawings: snapshot})
		})

	sess.pairing = services.NewPairingCoordinator(h.store, func(ev services.PairingEvent) {
		switch ev.Type {
		case services.PairingPartnerUpdated:
			sess.write(WSMessage{Type: "partner_update", Partner: ev.Partner})
		case services.PairingDisconnected:
			// Pairing lost: the exchange subscription must go with it.
			sess.exchange.Unsubscribe()
			sess.write(WSMessage{Type: "partner_disconnected"})
		}
	})

	h.registry.Register(userID, sess)
	defer func() {
		h.registry.Unregister(userID, sess)
		sess.Close()
	}()

	if err := h.attach(sess); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to attach session")
		sess.writeError("failed to attach session")
		return
	}

	log.Info().Str("user_id", userID).Msg("WebSocket connection established")

	for {
		_, messageBytes, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("user_id", userID).Msg("WebSocket error")
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			log.Error().Err(err).Str("user_id", userID).Msg("Failed to parse WebSocket message")
			sess.writeError("Invalid message format")
			continue
		}

		h.handleMessage(sess, msg)
	}
}

// attach syncs pairing state on connect: the user's own pair is ensured
// open, status is checked, and the drawing subscription starts if paired.
func (h *WebSocketHandler) attach(sess *session) error {
	me, err := h.store.GetUser(sess.ctx, sess.userID)
	if err != nil {
		return err
	}

	if err := sess.pairing.EnsureOwnPairOpen(sess.ctx, me); err != nil {
		// Not fatal: the next attach self-heals.
		log.Warn().Err(err).Str("user_id", sess.userID).Msg("Failed to ensure open pair")
	}

	if err := sess.pairing.CheckPairingStatus(sess.ctx, sess.userID); err != nil {
		return err
	}

	if partner := sess.pairing.Partner(); partner != nil {
		if err := sess.exchange.Subscribe(sess.ctx, sess.userID, partner.DisplayName); err != nil {
			return err
		}
	}

	h.sendPairingStatus(sess, me.InviteCode)
	return nil
}

func (h *WebSocketHandler) sendPairingStatus(sess *session, inviteCode string) {
	paired := sess.pairing.IsPaired()
	sess.write(WSMessage{
		Type:       "pairing_status",
		Paired:     &paired,
		InviteCode: inviteCode,
		Partner:    sess.pairing.Partner(),
	})
}

func (h *WebSocketHandler) handleMessage(sess *session, msg WSMessage) {
	switch msg.Type {
	case "join":
		h.handleJoin(sess, msg)
	case "disconnect":
		h.handleDisconnect(sess)
	case "send_drawing":
		h.handleSendDrawing(sess, msg)
	case "load_sent":
		h.handleLoadSent(sess)
	default:
		sess.writeError("Unknown message type")
	}
}

func (h *WebSocketHandler) handleJoin(sess *session, msg WSMessage) {
	partner, err := sess.pairing.JoinWithCode(sess.ctx, msg.Code, sess.userID)
	if err != nil {
		switch err {
		case services.ErrInvalidCode, services.ErrSelfPairing, services.ErrAlreadyPaired:
			sess.writeError(err.Error())
		default:
			sess.writeError("failed to join pair")
		}
		return
	}

	if err := sess.exchange.Subscribe(sess.ctx, sess.userID, partner.DisplayName); err != nil {
		log.Error().Err(err).Str("user_id", sess.userID).Msg("Failed to subscribe after join")
	}

	me, err := h.store.GetUser(sess.ctx, sess.userID)
	inviteCode := ""
	if err == nil {
		inviteCode = me.InviteCode
	}
	h.sendPairingStatus(sess, inviteCode)
}

func (h *WebSocketHandler) handleDisconnect(sess *session) {
	sess.exchange.Unsubscribe()
	if err := sess.pairing.Disconnect(sess.ctx, sess.userID); err != nil {
		sess.writeError("failed to disconnect")
		return
	}

	// The disconnect rotated the caller's invite code; report the new one.
	me, err := h.store.GetUser(sess.ctx, sess.userID)
	inviteCode := ""
	if err == nil {
		inviteCode = me.InviteCode
	}
	h.sendPairingStatus(sess, inviteCode)
}

func (h *WebSocketHandler) handleSendDrawing(sess *session, msg WSMessage) {
	partner := sess.pairing.Partner()
	if partner == nil {
		sess.writeError("You are not paired")
		return
	}

	me, err := h.store.GetUser(sess.ctx, sess.userID)
	if err != nil || me.PairID == nil {
		sess.writeError("You are not paired")
		return
	}

	var raster image.Image
	if msg.UploadRaster {
		img, err := render.SquareFromBytes(msg.VectorBytes, rasterRenderSide)
		if err != nil {
			sess.writeError(services.ErrInvalidImage.Error())
			return
		}
		raster = img
	}

	rec, err := sess.exchange.Send(sess.ctx, msg.VectorBytes, raster, sess.userID, partner.ID, *me.PairID, msg.UploadRaster)
	if err != nil {
		switch err {
		case services.ErrInvalidImage:
			sess.writeError(err.Error())
		default:
			sess.writeError("failed to send drawing")
		}
		return
	}

	sess.write(WSMessage{Type: "drawing_sent", Drawing: rec})
}

func (h *WebSocketHandler) handleLoadSent(sess *session) {
	if err := sess.exchange.LoadSent(sess.ctx, sess.userID); err != nil {
		sess.writeError("failed to load sent drawings")
		return
	}
	sess.write(WSMessage{Type: "sent_drawings", Drawings: sess.exchange.Sent()})
}
