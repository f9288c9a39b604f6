package inject

import (
	"github.com/sirupsen/logrus"

	"github.com/ngenohkevin/questdeck-agent/config"
)

// New returns the provider selected by the configured injection strategy
func New(cfg *config.Config, keySender KeySender, finder WindowFinder, logger logrus.FieldLogger) Provider {
	if cfg.InjectionStrategy == config.InjectionClipboard {
		return NewClipboard(keySender, finder, ClipboardOptions{
			Target:       cfg.TargetProcess,
			PollAttempts: cfg.WindowPollAttempts,
			PollDelay:    cfg.WindowPollDelay,
		}, logger)
	}
	return NewDevTools(cfg.DevToolsPort, cfg.TargetProcess)
}
