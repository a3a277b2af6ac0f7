package notify

import (
	"log/slog"

	"github.com/nextlevelbuilder/aiorg/internal/config"
	"github.com/nextlevelbuilder/aiorg/internal/events"
)

// FromConfig builds a notifier with every enabled transport attached. A
// transport that fails to initialize is skipped with a warning; notification
// delivery is never a startup blocker.
func FromConfig(cfg config.NotifyConfig, emitter *events.Emitter, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	n := New(emitter, cfg.RatePerMinute, logger)

	if cfg.Email.Enabled {
		sender, err := NewEmailSender(cfg.Email)
		if err != nil {
			logger.Warn("email notifications disabled", "error", err)
		} else {
			n.AddEmailSender(sender)
		}
	}
	if cfg.Telegram.Enabled {
		sender, err := NewTelegramSender(cfg.Telegram.Token)
		if err != nil {
			logger.Warn("telegram notifications disabled", "error", err)
		} else {
			n.AddChatSender(sender)
		}
	}
	if cfg.Discord.Enabled {
		sender, err := NewDiscordSender(cfg.Discord.Token)
		if err != nil {
			logger.Warn("discord notifications disabled", "error", err)
		} else {
			n.AddChatSender(sender)
		}
	}
	return n
}
