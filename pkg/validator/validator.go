// Package validator exchanges a CAS service ticket for a validated
// principal by calling the CAS server's validation endpoint. The three
// protocol variants (CAS 1.0 plain text, CAS 2.0 and 3.0 XML) share one
// HTTP invocation routine and differ only in endpoint path and response
// parsing.
package validator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"

	"github.com/go-logr/logr"

	"github.com/sso-tools/cascade/pkg/assertion"
)

// ProtocolVersion selects the CAS validation protocol variant.
type ProtocolVersion int

const (
	// V1 uses the plain-text /validate endpoint.
	V1 ProtocolVersion = iota + 1
	// V2 uses the XML /serviceValidate endpoint without attributes.
	V2
	// V3 uses /p3/serviceValidate and parses the attribute block.
	V3
)

func (v ProtocolVersion) endpoint() string {
	switch v {
	case V1:
		return "validate"
	case V2:
		return "serviceValidate"
	default:
		return "p3/serviceValidate"
	}
}

var (
	// ErrInvalidInput is returned when a required argument is empty.
	// This is a caller bug, never a protocol outcome.
	ErrInvalidInput = errors.New("cas: ticket and service must not be empty")

	// ErrNoPrincipal is returned when the CAS server reports a plain
	// rejection (CAS 1.0 "no") or the response carries no usable
	// principal. It is distinct from transport and protocol errors.
	ErrNoPrincipal = errors.New("cas: no principal in validation response")
)

// AuthenticationError is the typed failure reported by a CAS 2.0/3.0
// authenticationFailure element.
type AuthenticationError struct {
	Code    string
	Message string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("cas: authentication failure %s: %s", e.Code, e.Message)
}

const defaultUserAgent = "cascade-cas-client/1.0"

// Options configures a ServiceTicketValidator.
type Options struct {
	// CasURL is the CAS server base URL, e.g. https://cas.example.org/cas.
	CasURL *url.URL

	// Version selects the validation protocol variant. Defaults to V3.
	Version ProtocolVersion

	// Client is the HTTP client for validation calls. Defaults to
	// http.DefaultClient.
	Client *http.Client

	// Logger receives debug-level request/response logging. Defaults to
	// a discarding logger.
	Logger logr.Logger

	// UserAgent overrides the User-Agent header on validation calls.
	UserAgent string
}

// ServiceTicketValidator validates CAS service tickets against a server.
type ServiceTicketValidator struct {
	casURL    *url.URL
	version   ProtocolVersion
	client    *http.Client
	logger    logr.Logger
	userAgent string
}

// New creates a validator from options. CasURL is required.
func New(opts Options) (*ServiceTicketValidator, error) {
	if opts.CasURL == nil {
		return nil, errors.New("cas: validator requires a server URL")
	}
	if opts.Version == 0 {
		opts.Version = V3
	}
	if opts.Version < V1 || opts.Version > V3 {
		return nil, fmt.Errorf("cas: unsupported protocol version %d", opts.Version)
	}
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.Logger.GetSink() == nil {
		opts.Logger = logr.Discard()
	}
	return &ServiceTicketValidator{
		casURL:    opts.CasURL,
		version:   opts.Version,
		client:    opts.Client,
		logger:    opts.Logger,
		userAgent: opts.UserAgent,
	}, nil
}

// Version returns the protocol variant this validator speaks.
func (v *ServiceTicketValidator) Version() ProtocolVersion {
	return v.version
}

// ValidateURL builds the validation endpoint URL for the given ticket and
// service. The service value must be unescaped; it is percent-encoded
// exactly once here.
func (v *ServiceTicketValidator) ValidateURL(ticket, service string) (string, error) {
	u, err := v.casURL.Parse(path.Join(v.casURL.Path, v.version.endpoint()))
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("service", service)
	q.Set("ticket", ticket)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Validate exchanges ticket for a principal by calling the CAS server.
// A server rejection yields ErrNoPrincipal or *AuthenticationError; a
// non-2xx status or network failure is returned as a transport error.
func (v *ServiceTicketValidator) Validate(ctx context.Context, ticket, service string) (*assertion.Principal, error) {
	if ticket == "" || service == "" {
		return nil, ErrInvalidInput
	}

	u, err := v.ValidateURL(ticket, service)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", v.userAgent)

	v.logger.V(1).Info("validating service ticket", "url", u, "version", int(v.version))

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cas: validation request failed: %w", err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("cas: reading validation response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("cas: validation endpoint returned %s", resp.Status)
	}

	v.logger.V(2).Info("validation response received", "status", resp.Status, "bytes", len(body))

	var name string
	var attrs *assertion.Attributes
	switch v.version {
	case V1:
		name, err = parseV1Response(body)
	default:
		name, attrs, err = parseServiceResponse(body, v.version == V3)
	}
	if err != nil {
		return nil, err
	}

	a, err := assertion.New(name, attrs)
	if err != nil {
		return nil, err
	}
	return assertion.NewPrincipal(a, "CAS", nil), nil
}
