// Package ws streams pass results to WebSocket clients. Reports arriving on
// the signal bus are decoded once and fanned out as typed envelopes; each
// client chooses which topics it receives.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/treasurybot/internal/domain"
)

// Topics a client can subscribe to.
const (
	TopicStatus     = "bot_status"
	TopicPassReport = "pass_report"
	TopicHedges     = "hedge_decisions"
	TopicStopLosses = "stop_losses"
)

var allTopics = []string{TopicPassReport, TopicHedges, TopicStopLosses}

// defaultChannels are the bus channels the hub listens on.
var defaultChannels = []string{"treasury:*"}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// envelope is the frame every message is sent in.
type envelope struct {
	Type    string `json:"type"`
	PassID  string `json:"pass_id,omitempty"`
	Payload any    `json:"payload"`
}

// PassStatus reports pass state for the connect snapshot.
type PassStatus interface {
	Running() bool
	LastReport() (domain.PassReport, bool)
}

// Config captures runtime metadata for the connect snapshot.
type Config struct {
	Mode       string
	StrategyID string
	StartedAt  time.Time
	Passes     PassStatus // optional
}

type frame struct {
	topic string
	data  []byte
}

// Hub bridges the signal bus to connected clients.
type Hub struct {
	bus    domain.SignalBus
	cfg    Config
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}

	frames     chan frame
	register   chan *client
	unregister chan *client
}

// NewHub creates a hub reading pass reports from bus.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	if cfg.Mode == "" {
		cfg.Mode = "unknown"
	}
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now().UTC()
	}
	return &Hub{
		bus:        bus,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "ws")),
		clients:    make(map[*client]struct{}),
		frames:     make(chan frame, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
	}
}

// Run subscribes to the bus, then serves clients until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	for _, ch := range defaultChannels {
		msgs, err := h.bus.Subscribe(ctx, ch)
		if err != nil {
			return fmt.Errorf("ws: subscribe %s: %w", ch, err)
		}
		h.logger.Info("ws: subscribed", slog.String("channel", ch))
		go h.forward(ctx, ch, msgs)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", n))

		case f := <-h.frames:
			h.mu.RLock()
			for c := range h.clients {
				if !c.wants(f.topic) {
					continue
				}
				select {
				case c.send <- f.data:
				default:
					h.logger.Warn("ws: dropping frame for slow client", slog.String("topic", f.topic))
				}
			}
			h.mu.RUnlock()
		}
	}
}

// forward decodes reports from one subscription and queues their frames.
func (h *Hub) forward(ctx context.Context, channel string, msgs <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				h.logger.Warn("ws: subscription closed", slog.String("channel", channel))
				return
			}
			var report domain.PassReport
			if err := json.Unmarshal(data, &report); err != nil {
				h.logger.Warn("ws: dropping undecodable report",
					slog.String("channel", channel),
					slog.String("error", err.Error()),
				)
				continue
			}
			for _, f := range reportFrames(report) {
				select {
				case h.frames <- f:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// reportFrames splits a report into topic frames. Hedge decisions inside the
// band and empty stop-loss lists produce no frame.
func reportFrames(r domain.PassReport) []frame {
	frames := []frame{encode(TopicPassReport, r.ID, r)}

	var actions []domain.HedgeDecision
	for _, d := range r.HedgeDecisions {
		if d.Action != domain.HedgeInRange {
			actions = append(actions, d)
		}
	}
	if len(actions) > 0 {
		frames = append(frames, encode(TopicHedges, r.ID, actions))
	}
	if len(r.StopLosses) > 0 {
		frames = append(frames, encode(TopicStopLosses, r.ID, r.StopLosses))
	}
	return frames
}

func encode(topic, passID string, payload any) frame {
	data, err := json.Marshal(envelope{Type: topic, PassID: passID, Payload: payload})
	if err != nil {
		data = []byte(fmt.Sprintf(`{"type":%q,"error":"encode failed"}`, topic))
	}
	return frame{topic: topic, data: data}
}

// statusFrame is sent to each client on connect.
func (h *Hub) statusFrame() []byte {
	payload := map[string]any{
		"mode":           h.cfg.Mode,
		"strategy_id":    h.cfg.StrategyID,
		"uptime_seconds": max(int64(time.Since(h.cfg.StartedAt).Seconds()), 0),
		"topics":         allTopics,
	}
	if p := h.cfg.Passes; p != nil {
		payload["pass_running"] = p.Running()
		if last, ok := p.LastReport(); ok {
			payload["last_pass_id"] = last.ID
			payload["last_pass_errored"] = last.Summary.Errored
		}
	}
	return encode(TopicStatus, "", payload).data
}

// HandleWS upgrades the request and registers the client. ?topics= limits
// the initial subscription, e.g. ?topics=hedge_decisions,stop_losses.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	topics := allTopics
	if v := r.URL.Query().Get("topics"); v != "" {
		topics = strings.Split(v, ",")
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := newClient(h, conn, topics)
	h.register <- c
	c.send <- h.statusFrame()

	go c.writePump()
	go c.readPump()
}
