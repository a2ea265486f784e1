package handshake

import (
	"context"

	"github.com/sso-tools/cascade/pkg/assertion"
)

// RedirectEvent fires before the login redirect is handed back to the
// adapter. The handler may replace the redirect target or suppress the
// redirect entirely.
type RedirectEvent struct {
	// RedirectURL is the CAS login URL about to be issued. Handlers may
	// overwrite it.
	RedirectURL string

	suppressed bool
}

// Suppress marks the redirect as handled by the event handler; the
// adapter must not write its own redirect.
func (e *RedirectEvent) Suppress() { e.suppressed = true }

// Suppressed reports whether a handler took over the redirect.
func (e *RedirectEvent) Suppressed() bool { return e.suppressed }

// CreatingTicketEvent fires after successful validation, before the
// identity is handed to the host. Handlers may enrich the principal's
// properties or reject the sign-in by returning an error.
type CreatingTicketEvent struct {
	Principal  *assertion.Principal
	Properties *Properties
}

// RemoteFailureEvent fires when validation or ticket creation fails with
// a remote-class error. A handler may mark the failure handled and supply
// a redirect (e.g. an access-denied page) instead of propagating it.
type RemoteFailureEvent struct {
	Kind FailureKind
	Err  error

	handled     bool
	redirectURL string
}

// Handle suppresses the failure and asks the adapter to redirect the
// user agent to redirectURL instead.
func (e *RemoteFailureEvent) Handle(redirectURL string) {
	e.handled = true
	e.redirectURL = redirectURL
}

// Handled reports whether a handler absorbed the failure.
func (e *RemoteFailureEvent) Handled() bool { return e.handled }

// RedirectURL returns the handler-supplied redirect target.
func (e *RemoteFailureEvent) RedirectURL() string { return e.redirectURL }

// Events is the extensibility surface consumed by the handshake. All
// methods are optional behaviors; NopEvents is the do-nothing default.
type Events interface {
	// RedirectingToLogin runs before the challenge redirect is issued.
	RedirectingToLogin(ctx context.Context, e *RedirectEvent) error

	// CreatingTicket runs with the validated principal before the
	// identity is returned. An error rejects the sign-in and follows
	// the remote-failure path.
	CreatingTicket(ctx context.Context, e *CreatingTicketEvent) error

	// RemoteFailure runs for remote-class failures and may absorb them.
	RemoteFailure(ctx context.Context, e *RemoteFailureEvent)
}

// NopEvents implements Events with defaults that change nothing.
type NopEvents struct{}

func (NopEvents) RedirectingToLogin(context.Context, *RedirectEvent) error { return nil }

func (NopEvents) CreatingTicket(context.Context, *CreatingTicketEvent) error { return nil }

func (NopEvents) RemoteFailure(context.Context, *RemoteFailureEvent) {}
