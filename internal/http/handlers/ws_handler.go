package handlers

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ads-marketplace/deposit-tracker/internal/auth"
	"github.com/ads-marketplace/deposit-tracker/internal/events"
	"github.com/ads-marketplace/deposit-tracker/internal/http/dto"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ParticipantChecker decides who may follow a deal.
type ParticipantChecker interface {
	IsParticipant(ctx context.Context, dealID, userID uuid.UUID) (bool, error)
}

// wsClient is one websocket connection and the deals it follows.
type wsClient struct {
	userID uuid.UUID
	send   func([]byte) error

	mu    sync.Mutex // serializes send
	deals map[string]struct{}
}

func (c *wsClient) write(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.send(data)
}

func (c *wsClient) follows(dealID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.deals[dealID]
	return ok
}

// WSHub pushes deal and deposit events to the clients following those deals.
type WSHub struct {
	jwtSecret    string
	subscriber   events.Subscriber
	participants ParticipantChecker
	log          *zap.Logger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

func NewWSHub(jwtSecret string, subscriber events.Subscriber, participants ParticipantChecker, log *zap.Logger) *WSHub {
	return &WSHub{
		jwtSecret:    jwtSecret,
		subscriber:   subscriber,
		participants: participants,
		log:          log,
		clients:      make(map[*wsClient]struct{}),
	}
}

func (h *WSHub) Start(ctx context.Context) {
	for _, stream := range []string{events.StreamDeal, events.StreamDeposit} {
		if err := h.subscriber.Subscribe(ctx, stream, h.dispatch); err != nil {
			h.log.Error("ws hub subscribe failed", zap.String("stream", stream), zap.Error(err))
		}
	}
}

func (h *WSHub) dispatch(event events.Event) {
	dealID, _ := event.Payload["deal_id"].(string)
	if dealID == "" {
		return
	}

	// the bot text and chat id are not for browsers
	out := events.Event{Type: event.Type, Payload: make(map[string]any, len(event.Payload))}
	for k, v := range event.Payload {
		if k == "telegram_user_id" || k == "text" {
			continue
		}
		out.Payload[k] = v
	}
	data, err := json.Marshal(out)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.follows(dealID) {
			c.write(data)
		}
	}
}

func (h *WSHub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *WSHub) unregister(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// handleMessage applies a subscribe or unsubscribe request from the client.
func (h *WSHub) handleMessage(ctx context.Context, c *wsClient, raw []byte) {
	var msg dto.WSMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.write([]byte(`{"error":"invalid message"}`))
		return
	}
	dealID, err := uuid.Parse(msg.DealID)
	if err != nil {
		c.write([]byte(`{"error":"invalid deal id"}`))
		return
	}

	switch msg.Action {
	case "subscribe":
		ok, err := h.participants.IsParticipant(ctx, dealID, c.userID)
		if err != nil || !ok {
			c.write([]byte(`{"error":"deal not found"}`))
			return
		}
		c.mu.Lock()
		c.deals[dealID.String()] = struct{}{}
		c.mu.Unlock()
	case "unsubscribe":
		c.mu.Lock()
		delete(c.deals, dealID.String())
		c.mu.Unlock()
	default:
		c.write([]byte(`{"error":"unknown action"}`))
	}
}

// WSUpgradeMiddleware checks for websocket upgrade
func WSUpgradeMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

func (h *WSHub) HandleWS(conn *websocket.Conn) {
	tokenStr := conn.Query("token")
	if tokenStr == "" {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"missing token"}`))
		conn.Close()
		return
	}

	claims, err := auth.ParseJWT(h.jwtSecret, tokenStr)
	if err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"invalid token"}`))
		conn.Close()
		return
	}

	client := &wsClient{
		userID: claims.UserID,
		send:   func(b []byte) error { return conn.WriteMessage(websocket.TextMessage, b) },
		deals:  make(map[string]struct{}),
	}
	h.register(client)
	defer func() {
		h.unregister(client)
		conn.Close()
	}()

	ctx := context.Background()
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}
		h.handleMessage(ctx, client, msg)
	}
}
