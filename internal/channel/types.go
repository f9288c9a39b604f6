package channel

import "encoding/json"

// Frame types exchanged over the control channel
const (
	TypeQuestUpdate  = "quest-update"
	TypeStatusUpdate = "status-update"
	TypeLog          = "log"
	TypeUserUpdate   = "user-update"
	TypeExecuteQuest = "execute-quest"
	TypeGetQuests    = "get-quests"
	TypeGetStatus    = "get-status"
	TypeError        = "error"
)

// Lifecycle events emitted by the client in addition to frame types
const (
	EventMessage         = "message"
	EventOpen            = "open"
	EventClose           = "close"
	EventReconnectFailed = "reconnect-failed"
)

// Message is one JSON frame
type Message struct {
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
	QuestID string          `json:"questId,omitempty"`
}

// NewMessage builds a frame, encoding data when present
func NewMessage(typ, questID string, data any) (Message, error) {
	msg := Message{Type: typ, QuestID: questID}
	if data == nil {
		return msg, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, err
	}
	msg.Data = raw
	return msg, nil
}

// Handler receives decoded frames
type Handler func(Message)

// EventOutcome marks a status-update answering an execute-quest frame
const EventOutcome = "outcome"

// StatusUpdate is the data of a status-update frame. Event is an event bus type or EventOutcome.
type StatusUpdate struct {
	Event  string          `json:"event"`
	TaskID string          `json:"taskId,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
	Code   string          `json:"code,omitempty"`
}

// NewStatusUpdate encodes data into a StatusUpdate
func NewStatusUpdate(event, taskID string, data any) (StatusUpdate, error) {
	update := StatusUpdate{Event: event, TaskID: taskID}
	if data == nil {
		return update, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return StatusUpdate{}, err
	}
	update.Data = raw
	return update, nil
}

// ErrorFrame is the data of an error frame
type ErrorFrame struct {
	Message string `json:"message"`
}
