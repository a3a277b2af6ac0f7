// Package notify delivers task outcomes and review requests to the humans
// mirrored by nodes, over the channels each node opts into. Delivery is
// best-effort: a failed send is logged and recorded as a NOTIFY_FAILED event,
// never surfaced to the engine.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/aiorg/internal/events"
	"github.com/nextlevelbuilder/aiorg/internal/store"
	"github.com/nextlevelbuilder/aiorg/pkg/protocol"
)

// Sender delivers one message to one address on a concrete transport.
type Sender interface {
	Name() string
	Send(ctx context.Context, address, subject, body string) error
}

// Notifier fans a notification out to a node's configured channels. Each
// transport gets its own rate limiter so a burst on email cannot starve chat.
type Notifier struct {
	emitter *events.Emitter
	logger  *slog.Logger
	email   []Sender
	chat    []Sender
	limits  map[string]*rate.Limiter
	perMin  int
	now     func() time.Time
}

func New(emitter *events.Emitter, ratePerMinute int, logger *slog.Logger) *Notifier {
	if ratePerMinute <= 0 {
		ratePerMinute = 30
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		emitter: emitter,
		logger:  logger,
		limits:  make(map[string]*rate.Limiter),
		perMin:  ratePerMinute,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// AddEmailSender registers a transport for the "email" channel.
func (n *Notifier) AddEmailSender(s Sender) {
	n.email = append(n.email, s)
	n.limits[s.Name()] = rate.NewLimiter(rate.Limit(n.perMin)/60, n.perMin)
}

// AddChatSender registers a transport for the "chat_channel" channel.
func (n *Notifier) AddChatSender(s Sender) {
	n.chat = append(n.chat, s)
	n.limits[s.Name()] = rate.NewLimiter(rate.Limit(n.perMin)/60, n.perMin)
}

// RootTaskCompleted tells the root node's human mirror that their task is
// done. Implements the engine's notifier hook.
func (n *Notifier) RootTaskCompleted(ctx context.Context, node *store.NodeData, task *store.TaskData) {
	subject := fmt.Sprintf("Task completed: %s", task.Title)
	if task.Overdue(n.now()) {
		subject += " (overdue)"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Task %q has completed.\n", task.Title)
	if summary, ok := task.OutputData["summary"].(string); ok && summary != "" {
		fmt.Fprintf(&b, "\nSummary:\n%s\n", summary)
	}
	if task.Deadline != nil && n.now().After(*task.Deadline) {
		fmt.Fprintf(&b, "\nNote: the deadline (%s) passed before completion.\n",
			task.Deadline.Format(time.RFC3339))
	}
	if task.CompletedAt != nil {
		fmt.Fprintf(&b, "\nCompleted at %s.\n", task.CompletedAt.Format(time.RFC3339))
	}

	n.deliver(ctx, node, &task.ID, subject, b.String())
}

// HITLPending alerts the node's human mirror that a review is waiting.
// Implements the hitl manager's alerter hook.
func (n *Notifier) HITLPending(ctx context.Context, node *store.NodeData, task *store.TaskData, item *store.HITLQueueItemData) {
	subject := fmt.Sprintf("Review needed: %s", task.Title)
	body := fmt.Sprintf(
		"A %s review is waiting for %s on task %q.\nThe review window closes at %s.",
		item.ReviewType, node.RoleName, task.Title, item.ExpiresAt.Format(time.RFC3339))
	n.deliver(ctx, node, &task.ID, subject, body)
}

// deliver sends over each channel the node opted into. A node with no
// notification_channels gets email when an address exists.
func (n *Notifier) deliver(ctx context.Context, node *store.NodeData, taskID *uuid.UUID, subject, body string) {
	channels := node.NotificationChannels
	if len(channels) == 0 {
		channels = []string{store.ChannelEmail}
	}

	for _, ch := range channels {
		var senders []Sender
		var address string
		switch ch {
		case store.ChannelEmail:
			senders, address = n.email, node.Human.Email
		case store.ChannelChat:
			senders, address = n.chat, chatAddress(node)
		default:
			n.logger.Warn("unknown notification channel", "channel", ch, "node_id", node.ID)
			continue
		}
		if address == "" {
			continue
		}
		for _, s := range senders {
			n.send(ctx, s, node, taskID, address, subject, body)
		}
	}
}

func (n *Notifier) send(ctx context.Context, s Sender, node *store.NodeData, taskID *uuid.UUID, address, subject, body string) {
	if lim := n.limits[s.Name()]; lim != nil && !lim.Allow() {
		n.fail(ctx, s.Name(), node, taskID, "rate limited")
		return
	}
	if err := s.Send(ctx, address, subject, body); err != nil {
		n.fail(ctx, s.Name(), node, taskID, err.Error())
		return
	}
	n.logger.Debug("notification sent", "transport", s.Name(), "node_id", node.ID, "subject", subject)
}

func (n *Notifier) fail(ctx context.Context, transport string, node *store.NodeData, taskID *uuid.UUID, reason string) {
	n.logger.Warn("notification failed", "transport", transport, "node_id", node.ID, "reason", reason)
	if n.emitter != nil {
		n.emitter.Emit(ctx, node.OrgID, protocol.EventNotifyFailed, taskID, &node.ID, nil, map[string]any{
			"transport": transport,
			"reason":    reason,
		})
	}
}

// chatAddress picks the node's chat destination. The two chat id slots are
// transport-agnostic; the first one set wins.
func chatAddress(node *store.NodeData) string {
	if node.Human.ChatIDTeams != "" {
		return node.Human.ChatIDTeams
	}
	return node.Human.ChatIDSlack
}
