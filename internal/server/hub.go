package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/xeipuuv/gojsonschema"

	"github.com/ngenohkevin/questdeck-agent/internal/channel"
	"github.com/ngenohkevin/questdeck-agent/internal/events"
	"github.com/ngenohkevin/questdeck-agent/internal/quest"
)

const (
	hubSendBuffer   = 64
	hubWriteTimeout = 10 * time.Second
	hubReadLimit    = 1 << 20
	hubListTimeout  = 5 * time.Second
)

const frameSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": {
      "type": "string",
      "enum": ["quest-update", "status-update", "log", "user-update", "execute-quest", "get-quests", "get-status"]
    },
    "questId": { "type": "string" }
  }
}`

var frameSchemaLoader = gojsonschema.NewStringLoader(frameSchemaJSON)

// Hub serves the duplex control channel at /ws. It fans bus events out to every client and
// answers execute-quest, get-quests and get-status frames. quest-update frames from the in-host
// bridge feed the ground-truth store.
type Hub struct {
	deps     Deps
	logger   logrus.FieldLogger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*hubClient]struct{}
}

type hubClient struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewHub creates a hub accepting connections from allowedOrigins ("*" for any)
func NewHub(deps Deps, allowedOrigins []string) *Hub {
	allowAll := len(allowedOrigins) == 1 && allowedOrigins[0] == "*"

	return &Hub{
		deps:    deps,
		logger:  deps.Logger.WithField("component", "hub"),
		clients: make(map[*hubClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if allowAll || origin == "" {
					return true
				}
				for _, allowed := range allowedOrigins {
					if origin == allowed {
						return true
					}
				}
				return false
			},
		},
	}
}

// Run forwards bus events to clients until ctx is done, then closes every client
func (h *Hub) Run(ctx context.Context) {
	ch, cancel := h.deps.Bus.Subscribe(256)
	defer cancel()
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			msg, err := frameFor(e)
			if err != nil {
				h.logger.WithError(err).Warn("failed to encode event frame")
				continue
			}
			h.Broadcast(msg)
		}
	}
}

// frameFor maps a bus event onto a wire frame: log events keep their contract, everything else
// travels as a status-update
func frameFor(e events.Event) (channel.Message, error) {
	if e.Type == events.TypeLog {
		return channel.NewMessage(channel.TypeLog, e.TaskID, e.Data)
	}
	update, err := channel.NewStatusUpdate(string(e.Type), e.TaskID, e.Data)
	if err != nil {
		return channel.Message{}, err
	}
	return channel.NewMessage(channel.TypeStatusUpdate, e.TaskID, update)
}

// Broadcast queues msg for every client. Clients that cannot keep up miss frames.
func (h *Hub) Broadcast(msg channel.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.WithError(err).Warn("failed to encode frame")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.enqueue(data)
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS handles GET /ws
func (h *Hub) ServeWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Debug("websocket upgrade failed")
		return
	}

	client := &hubClient{
		conn: conn,
		send: make(chan []byte, hubSendBuffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.WithField("clients", h.ClientCount()).Debug("channel client connected")

	go h.writePump(client)
	h.readPump(client)
}

func (h *Hub) readPump(c *hubClient) {
	defer h.remove(c)

	c.conn.SetReadLimit(hubReadLimit)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		h.handleFrame(c, data)
	}
}

func (h *Hub) writePump(c *hubClient) {
	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.remove(c)
				return
			}
		case <-c.done:
			return
		}
	}
}

func (h *Hub) handleFrame(c *hubClient, data []byte) {
	if err := validateFrame(data); err != nil {
		h.replyError(c, err.Error())
		return
	}

	var msg channel.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		h.replyError(c, "invalid frame: "+err.Error())
		return
	}

	switch msg.Type {
	case channel.TypeExecuteQuest:
		go h.execute(c, msg.QuestID)
	case channel.TypeGetQuests:
		h.sendQuests(c)
	case channel.TypeGetStatus:
		h.reply(c, channel.TypeStatusUpdate, "", statusUpdate(string(events.TypeStatus), "", h.deps.Runner.Status()))
	case channel.TypeQuestUpdate:
		if h.deps.Bridge == nil {
			h.replyError(c, "quest updates are not accepted by this agent")
			return
		}
		if err := h.deps.Bridge.UpdateJSON(msg.Data); err != nil {
			h.replyError(c, err.Error())
			return
		}
		h.logger.Debug("quest list updated by bridge")
	default:
		h.logger.WithField("type", msg.Type).Debug("ignoring client frame")
	}
}

func validateFrame(data []byte) error {
	result, err := gojsonschema.Validate(frameSchemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("invalid frame: %w", err)
	}
	if !result.Valid() {
		issues := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			issues = append(issues, desc.String())
		}
		return fmt.Errorf("invalid frame: %s", strings.Join(issues, "; "))
	}
	return nil
}

func (h *Hub) execute(c *hubClient, questID string) {
	outcome, err := h.deps.Runner.Execute(context.Background(), questID)

	update, encErr := channel.NewStatusUpdate(channel.EventOutcome, questID, outcome)
	if encErr != nil {
		h.logger.WithError(encErr).Warn("failed to encode outcome")
		return
	}
	if err != nil {
		update.Error = err.Error()
		update.Code = quest.Code(err)
	}
	h.reply(c, channel.TypeStatusUpdate, questID, update)
}

func (h *Hub) sendQuests(c *hubClient) {
	ctx, cancel := context.WithTimeout(context.Background(), hubListTimeout)
	defer cancel()

	tasks, err := h.deps.Quests.ListTasks(ctx)
	if err != nil {
		h.replyError(c, err.Error())
		return
	}
	if tasks == nil {
		tasks = []quest.Task{}
	}
	h.reply(c, channel.TypeQuestUpdate, "", QuestList{Quests: tasks, Total: len(tasks)})
}

func statusUpdate(event, taskID string, data any) channel.StatusUpdate {
	update, err := channel.NewStatusUpdate(event, taskID, data)
	if err != nil {
		return channel.StatusUpdate{Event: event, TaskID: taskID, Error: err.Error()}
	}
	return update
}

func (h *Hub) reply(c *hubClient, typ, questID string, data any) {
	msg, err := channel.NewMessage(typ, questID, data)
	if err != nil {
		h.logger.WithError(err).Warn("failed to encode reply")
		return
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		h.logger.WithError(err).Warn("failed to encode reply")
		return
	}
	c.enqueue(raw)
}

func (h *Hub) replyError(c *hubClient, message string) {
	h.reply(c, channel.TypeError, "", channel.ErrorFrame{Message: message})
}

func (h *Hub) remove(c *hubClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*hubClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*hubClient]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

func (c *hubClient) enqueue(data []byte) {
	select {
	case <-c.done:
	case c.send <- data:
	default:
	}
}

func (c *hubClient) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}
