// Package handshake drives the CAS authentication cycle as a standalone
// state machine: challenge (redirect to the CAS login page), callback
// (state and ticket extraction), delegation to a ticket validator, and
// the creating-ticket event that hands the final identity to the host.
// The engine works on plain values; all request, response and cookie
// access belongs to the hosting adapter.
package handshake

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/url"
	"path"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/sso-tools/cascade/pkg/assertion"
	"github.com/sso-tools/cascade/pkg/validator"
)

// TicketValidator is the slice of the validator contract the handshake
// needs. *validator.ServiceTicketValidator satisfies it.
type TicketValidator interface {
	Validate(ctx context.Context, ticket, service string) (*assertion.Principal, error)
}

// Options configures a Handshake.
type Options struct {
	// ServerURL is the CAS server base URL.
	ServerURL *url.URL

	// CallbackURL is the absolute URL the CAS server redirects back to.
	CallbackURL string

	// Validator exchanges tickets for principals.
	Validator TicketValidator

	// Codec protects the state parameter. Required.
	Codec StateCodec

	// Events receives extensibility callbacks. Defaults to NopEvents.
	Events Events

	// Logger receives debug logging. Defaults to a discarding logger.
	Logger logr.Logger

	// RecordTicket controls whether the service ticket id is written
	// into the returned properties for single-logout correlation.
	// Enabled by default when a ticket store is in play; callers that
	// do not track sessions can leave it false.
	RecordTicket bool
}

// Handshake is the CAS authentication state machine. It is safe for
// concurrent use; every challenge/callback cycle is independent and
// correlated only through its token.
type Handshake struct {
	serverURL    *url.URL
	callbackURL  string
	validator    TicketValidator
	codec        StateCodec
	events       Events
	logger       logr.Logger
	recordTicket bool
}

// New creates a handshake engine from options.
func New(opts Options) (*Handshake, error) {
	if opts.ServerURL == nil {
		return nil, errors.New("handshake: server URL is required")
	}
	if opts.CallbackURL == "" {
		return nil, errors.New("handshake: callback URL is required")
	}
	if opts.Validator == nil {
		return nil, errors.New("handshake: validator is required")
	}
	if opts.Codec == nil {
		return nil, errors.New("handshake: state codec is required")
	}
	if opts.Events == nil {
		opts.Events = NopEvents{}
	}
	if opts.Logger.GetSink() == nil {
		opts.Logger = logr.Discard()
	}
	return &Handshake{
		serverURL:    opts.ServerURL,
		callbackURL:  opts.CallbackURL,
		validator:    opts.Validator,
		codec:        opts.Codec,
		events:       opts.Events,
		logger:       opts.Logger,
		recordTicket: opts.RecordTicket,
	}, nil
}

// Challenge is the outcome of issuing a login challenge.
type Challenge struct {
	// RedirectURL is the CAS login URL the adapter should send the user
	// agent to, empty when Suppressed.
	RedirectURL string

	// Nonce is the correlation token bound to this challenge. The
	// adapter must carry it to the callback (typically via a cookie)
	// and pass it back as the expected nonce.
	Nonce string

	// Suppressed is set when a RedirectingToLogin handler wrote its own
	// response.
	Suppressed bool
}

// NewChallenge builds the login redirect for returnURL. It constructs the
// redirect purely locally; no network traffic happens here.
func (h *Handshake) NewChallenge(ctx context.Context, returnURL string) (*Challenge, error) {
	nonce := uuid.NewString()
	state, err := h.codec.Encode(Properties{Nonce: nonce, ReturnURL: returnURL})
	if err != nil {
		return nil, fmt.Errorf("handshake: encoding state: %w", err)
	}

	service, err := h.serviceURL(state)
	if err != nil {
		return nil, err
	}

	login, err := h.serverURL.Parse(path.Join(h.serverURL.Path, "login"))
	if err != nil {
		return nil, err
	}
	q := login.Query()
	q.Set("service", service)
	login.RawQuery = q.Encode()

	ev := &RedirectEvent{RedirectURL: login.String()}
	if err := h.events.RedirectingToLogin(ctx, ev); err != nil {
		return nil, err
	}

	h.logger.V(1).Info("issuing login challenge", "return_url", returnURL, "suppressed", ev.Suppressed())

	c := &Challenge{Nonce: nonce, Suppressed: ev.Suppressed()}
	if !ev.Suppressed() {
		c.RedirectURL = ev.RedirectURL
	}
	return c, nil
}

// Result is the outcome of a successful or handled callback. Principal is
// nil when a RemoteFailure handler absorbed the failure; the adapter then
// only performs the redirect.
type Result struct {
	Principal   *assertion.Principal
	Properties  Properties
	RedirectURL string
}

// Callback consumes the CAS callback query parameters. expectedNonce is
// the correlation token the adapter carried from the matching challenge.
// Integrity failures (invalid state, correlation mismatch, missing
// ticket) return a *FailureError directly; remote failures are offered to
// the RemoteFailure event first.
func (h *Handshake) Callback(ctx context.Context, query url.Values, expectedNonce string) (*Result, error) {
	state := query.Get("state")
	if state == "" {
		return nil, &FailureError{Kind: FailureInvalidState, Err: errors.New("state parameter missing")}
	}

	props, err := h.codec.Decode(state)
	if err != nil {
		return nil, &FailureError{Kind: FailureInvalidState, Err: err}
	}

	if subtle.ConstantTimeCompare([]byte(props.Nonce), []byte(expectedNonce)) != 1 {
		return nil, &FailureError{Kind: FailureCorrelation, Err: errors.New("correlation token mismatch")}
	}

	ticket := query.Get("ticket")
	if ticket == "" {
		return nil, &FailureError{Kind: FailureMissingTicket, Err: errors.New("ticket parameter missing or empty")}
	}

	service, err := h.serviceURL(state)
	if err != nil {
		return nil, err
	}

	principal, err := h.validator.Validate(ctx, ticket, service)
	if err != nil {
		if errors.Is(err, validator.ErrNoPrincipal) {
			return h.remoteFailure(ctx, FailureMissingPrincipal, err)
		}
		return h.remoteFailure(ctx, FailureValidation, err)
	}
	if principal == nil {
		return h.remoteFailure(ctx, FailureMissingPrincipal, errors.New("validator returned no principal"))
	}

	ev := &CreatingTicketEvent{Principal: principal, Properties: &props}
	if err := h.events.CreatingTicket(ctx, ev); err != nil {
		return h.remoteFailure(ctx, FailureValidation, err)
	}

	if h.recordTicket {
		props.TicketID = ticket
	}

	h.logger.V(1).Info("callback validated", "principal", principal.Name())

	return &Result{
		Principal:   principal,
		Properties:  props,
		RedirectURL: props.ReturnURL,
	}, nil
}

// serviceURL reconstructs the callback URL carrying state. The same
// string is used at challenge time and again for validation, so the CAS
// server sees an identical service value in both places.
func (h *Handshake) serviceURL(state string) (string, error) {
	u, err := url.Parse(h.callbackURL)
	if err != nil {
		return "", fmt.Errorf("handshake: bad callback URL: %w", err)
	}
	q := u.Query()
	q.Set("state", state)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (h *Handshake) remoteFailure(ctx context.Context, kind FailureKind, cause error) (*Result, error) {
	ev := &RemoteFailureEvent{Kind: kind, Err: cause}
	h.events.RemoteFailure(ctx, ev)
	if ev.Handled() && ev.RedirectURL() != "" {
		h.logger.V(1).Info("remote failure handled by event", "kind", string(kind))
		return &Result{RedirectURL: ev.RedirectURL()}, nil
	}
	return nil, &FailureError{Kind: kind, Err: cause}
}
