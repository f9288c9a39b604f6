package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ngenohkevin/questdeck-agent/internal/channel"
	"github.com/ngenohkevin/questdeck-agent/internal/events"
	"github.com/ngenohkevin/questdeck-agent/internal/orchestrator"
	"github.com/ngenohkevin/questdeck-agent/internal/quest"
	"github.com/ngenohkevin/questdeck-agent/internal/server"
)

var errGaveUp = errors.New("lost the control channel and gave up reconnecting")

// session runs one conversation over the channel until finish is called or ctx ends
type session struct {
	client *channel.Client
	p      printer

	once sync.Once
	done chan error
	subs []func()
}

func newSession(client *channel.Client, p printer) *session {
	s := &session{client: client, p: p, done: make(chan error, 1)}
	s.on(channel.EventReconnectFailed, func(channel.Message) { s.finish(errGaveUp) })
	s.on(channel.TypeError, func(m channel.Message) {
		var frame channel.ErrorFrame
		_ = json.Unmarshal(m.Data, &frame)
		s.finish(fmt.Errorf("agent error: %s", frame.Message))
	})
	return s
}

func (s *session) on(event string, h channel.Handler) {
	s.subs = append(s.subs, s.client.On(event, h))
}

// onFirstOpen runs fn once, on the first successful open. Reconnects do not repeat requests.
func (s *session) onFirstOpen(fn func()) {
	var once sync.Once
	s.on(channel.EventOpen, func(channel.Message) { once.Do(fn) })
}

func (s *session) send(typ, questID string) {
	if !s.client.Send(channel.Message{Type: typ, QuestID: questID}) {
		s.finish(fmt.Errorf("failed to send %s", typ))
	}
}

func (s *session) finish(err error) {
	s.once.Do(func() { s.done <- err })
}

// run connects and blocks until the session finishes. A cancelled ctx ends it without error.
func (s *session) run(ctx context.Context) error {
	defer func() {
		for _, unsubscribe := range s.subs {
			unsubscribe()
		}
		s.client.Disconnect()
	}()

	if err := s.client.Connect(ctx); err != nil {
		s.p.note("connect failed, retrying: " + err.Error())
	}

	select {
	case err := <-s.done:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("timed out waiting for the agent")
		}
		return nil
	}
}

func decodeUpdate(m channel.Message) (channel.StatusUpdate, bool) {
	var update channel.StatusUpdate
	if err := json.Unmarshal(m.Data, &update); err != nil {
		return update, false
	}
	return update, true
}

// render prints any frame the agent pushes
func (s *session) render(m channel.Message) {
	switch m.Type {
	case channel.TypeLog:
		var l events.LogEvent
		if json.Unmarshal(m.Data, &l) == nil {
			s.p.log(l)
		}
	case channel.TypeStatusUpdate:
		update, ok := decodeUpdate(m)
		if !ok {
			return
		}
		switch update.Event {
		case string(events.TypeProgress):
			var snap quest.Snapshot
			if json.Unmarshal(update.Data, &snap) == nil {
				s.p.progress(snap)
			}
		case string(events.TypeProgressCleared):
			var c events.Cleared
			if json.Unmarshal(update.Data, &c) == nil {
				s.p.cleared(update.TaskID, c)
			}
		case channel.EventOutcome:
			var o orchestrator.Outcome
			_ = json.Unmarshal(update.Data, &o)
			s.p.outcome(o, update.Error)
		default:
			s.p.raw(update.Event, update.Data)
		}
	case channel.TypeError:
	default:
		s.p.raw(m.Type, m.Data)
	}
}

// watch prints everything the agent broadcasts until ctx ends
func watch(ctx context.Context, client *channel.Client, p printer) error {
	s := newSession(client, p)
	s.on(channel.EventMessage, s.render)
	s.on(channel.EventOpen, func(channel.Message) { p.note("connected") })
	s.on(channel.EventClose, func(channel.Message) { p.note("disconnected") })
	s.onFirstOpen(func() { s.send(channel.TypeGetStatus, "") })
	return s.run(ctx)
}

// executeQuest asks the agent to run questID ("" for every eligible quest) and follows it to the end.
// A time-gated quest ends when its progress is cleared.
func executeQuest(ctx context.Context, client *channel.Client, questID string, p printer) error {
	s := newSession(client, p)
	s.on(channel.EventMessage, s.render)

	s.on(channel.TypeStatusUpdate, func(m channel.Message) {
		update, ok := decodeUpdate(m)
		if !ok || update.TaskID != questID {
			return
		}

		switch update.Event {
		case channel.EventOutcome:
			if update.Error != "" {
				s.finish(fmt.Errorf("%s: %s", update.Code, update.Error))
				return
			}
			var o orchestrator.Outcome
			if err := json.Unmarshal(update.Data, &o); err != nil {
				s.finish(fmt.Errorf("invalid outcome: %w", err))
				return
			}
			if !o.Monitoring {
				s.finish(nil)
			}
		case string(events.TypeProgressCleared):
			var c events.Cleared
			_ = json.Unmarshal(update.Data, &c)
			if c.Reason == events.ReasonCompleted {
				s.finish(nil)
				return
			}
			s.finish(fmt.Errorf("quest %s ended: %s", questID, c.Reason))
		}
	})

	s.onFirstOpen(func() { s.send(channel.TypeExecuteQuest, questID) })
	return s.run(ctx)
}

// listQuests prints the agent's current quest list
func listQuests(ctx context.Context, client *channel.Client, p printer) error {
	s := newSession(client, p)
	s.on(channel.TypeQuestUpdate, func(m channel.Message) {
		var list server.QuestList
		if err := json.Unmarshal(m.Data, &list); err != nil {
			s.finish(fmt.Errorf("invalid quest list: %w", err))
			return
		}
		p.quests(list.Quests)
		s.finish(nil)
	})
	s.onFirstOpen(func() { s.send(channel.TypeGetQuests, "") })
	return s.run(ctx)
}
