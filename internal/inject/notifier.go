package inject

import (
	"context"
	"fmt"

	"github.com/ngenohkevin/questdeck-agent/internal/activity"
	"github.com/ngenohkevin/questdeck-agent/internal/quest"
)

// Notifier dispatches running-games changes inside the host through a provider
type Notifier struct {
	provider Provider
}

// NewNotifier creates a notifier backed by p
func NewNotifier(p Provider) *Notifier {
	return &Notifier{provider: p}
}

// Publish dispatches the change and fails unless the host acknowledges it
func (n *Notifier) Publish(ctx context.Context, change activity.Change) error {
	payload, err := BuildPayload(Command{Action: ActionDispatch, Data: change})
	if err != nil {
		return err
	}

	result, err := n.provider.Submit(ctx, payload)
	if err != nil {
		return err
	}
	if !result.Success {
		return quest.NewError(quest.ErrInjectionFailed, "", fmt.Sprintf("dispatch rejected: %s", result.Message), nil)
	}
	return nil
}
