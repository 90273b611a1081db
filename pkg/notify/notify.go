// Package notify turns status Transitions into outbound messages,
// separating "decide what to send" (Notifier, using the Integrations
// capability for subject/body templating) from "how it's delivered"
// (Sender), the way the bridge example's Notifier defers delivery to
// its matrixAdapter collaborator.
package notify

import (
	"fmt"
	"log/slog"

	"github.com/chpc-uofu/arbiter2d/pkg/model"
)

// Kind mirrors pkg/status.Kind without importing it, keeping notify
// free of a dependency on the status engine's internals.
type Kind int

const (
	Violation Kind = iota
	Release
	HighUsage
)

// Integrations is the capability interface the design notes call for:
// everything site-specific about composing a notification, kept out
// of this package so it stays a pure formatter.
type Integrations interface {
	EmailAddressOf(uid int) (string, error)
	WarningSubject(us model.UserSlice, kind Kind) string
	WarningBody(us model.UserSlice, peers []string, kind Kind) string
}

// Sender is the delivery collaborator — composition/SMTP is out of
// scope for this package; production wires a real mailer, tests wire
// a recording fake.
type Sender interface {
	Send(to, subject, body string) error
}

// Notifier formats and sends one notification per Transition.
type Notifier struct {
	integrations Integrations
	sender       Sender
	logger       *slog.Logger
}

// New builds a Notifier.
func New(integrations Integrations, sender Sender, logger *slog.Logger) *Notifier {
	return &Notifier{integrations: integrations, sender: sender, logger: logger}
}

// Notify formats and sends a notification for one transition. peers is
// the set of other sync-group hostnames this penalty also applies on
// (spec.md §4.6 step 5); nil or empty outside a sync group.
func (n *Notifier) Notify(kind Kind, us model.UserSlice, peers []string) error {
	addr, err := n.integrations.EmailAddressOf(us.UID)
	if err != nil {
		return fmt.Errorf("notify: resolve address for uid %d: %w", us.UID, err)
	}
	if addr == "" {
		n.logger.Warn("no email address resolved, skipping notification", "uid", us.UID)
		return nil
	}

	subject := n.integrations.WarningSubject(us, kind)
	body := n.integrations.WarningBody(us, peers, kind)

	if err := n.sender.Send(addr, subject, body); err != nil {
		return fmt.Errorf("notify: send to uid %d: %w", us.UID, err)
	}
	return nil
}
