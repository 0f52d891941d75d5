// Package notify delivers best-effort operator alerts over shoutrrr
// service URLs (project load validation failure, audio command-queue
// abort, plugin scan failure). Strictly fire-and-forget: delivery never
// blocks the session worker and failures are logged, not surfaced to
// clients.
package notify

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/router"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/thestuu/engine/internal/logging"
)

// Notifier fans one message out to every configured service URL.
type Notifier struct {
	sender *router.ServiceRouter
	logger *slog.Logger
}

// New builds a notifier from shoutrrr service URLs. An empty list yields a
// no-op notifier (Alert becomes a cheap nil check), so callers never have
// to guard against an unconfigured instance.
func New(urls []string) *Notifier {
	n := &Notifier{logger: logging.ForService("notify")}
	if len(urls) == 0 {
		return n
	}
	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		n.logger.Error("invalid notification URLs, notifications disabled", "error", err)
		return n
	}
	n.sender = sender
	return n
}

// Alert sends title/message to every configured service on a background
// goroutine. Send errors are logged per-service.
func (n *Notifier) Alert(title, message string) {
	if n.sender == nil {
		return
	}
	go func() {
		params := &types.Params{"title": title}
		start := time.Now()
		for i, err := range n.sender.Send(message, params) {
			if err != nil {
				n.logger.Warn("notification delivery failed",
					"service_index", i, "error", err)
			}
		}
		n.logger.Debug("notifications dispatched",
			"title", title, "elapsed", time.Since(start))
	}()
}

// Alertf is Alert with a formatted message.
func (n *Notifier) Alertf(title, format string, args ...any) {
	n.Alert(title, fmt.Sprintf(format, args...))
}
