package mockcas

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sso-tools/cascade/pkg/validator"
)

func newMockServer(t *testing.T) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Route("/cas", NewServer().RegisterRoutes)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

// obtainTicket logs in as username and returns the ticket issued for
// service.
func obtainTicket(t *testing.T, srv *httptest.Server, username, service string) string {
	t.Helper()
	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := client.PostForm(srv.URL+"/cas/login", url.Values{
		"username": {username},
		"service":  {service},
	})
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	ticket := loc.Query().Get("ticket")
	require.True(t, strings.HasPrefix(ticket, "ST-"))
	return ticket
}

func newValidatorFor(t *testing.T, srv *httptest.Server, version validator.ProtocolVersion) *validator.ServiceTicketValidator {
	t.Helper()
	casURL, err := url.Parse(srv.URL + "/cas")
	require.NoError(t, err)
	v, err := validator.New(validator.Options{CasURL: casURL, Version: version})
	require.NoError(t, err)
	return v
}

func TestLoginAndValidateV3(t *testing.T) {
	srv := newMockServer(t)
	const service = "https://app.example.org/callback"

	ticket := obtainTicket(t, srv, "alice", service)
	v := newValidatorFor(t, srv, validator.V3)

	p, err := v.Validate(context.Background(), ticket, service)
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Name())
	assert.Equal(t, []string{"staff", "faculty"}, p.Assertion().Attributes().Values("affiliation"))
}

func TestTicketIsSingleUse(t *testing.T) {
	srv := newMockServer(t)
	const service = "https://app.example.org/callback"

	ticket := obtainTicket(t, srv, "bob", service)
	v := newValidatorFor(t, srv, validator.V2)

	_, err := v.Validate(context.Background(), ticket, service)
	require.NoError(t, err)

	_, err = v.Validate(context.Background(), ticket, service)
	var authErr *validator.AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "INVALID_TICKET", authErr.Code)
}

func TestServiceMustMatch(t *testing.T) {
	srv := newMockServer(t)

	ticket := obtainTicket(t, srv, "bob", "https://app.example.org/callback")
	v := newValidatorFor(t, srv, validator.V2)

	_, err := v.Validate(context.Background(), ticket, "https://evil.example.org/callback")
	var authErr *validator.AuthenticationError
	require.ErrorAs(t, err, &authErr)
}

func TestValidateV1AgainstMock(t *testing.T) {
	srv := newMockServer(t)
	const service = "https://app.example.org/callback"

	ticket := obtainTicket(t, srv, "bob", service)
	v := newValidatorFor(t, srv, validator.V1)

	p, err := v.Validate(context.Background(), ticket, service)
	require.NoError(t, err)
	assert.Equal(t, "bob", p.Name())

	// An unknown ticket yields the "no" body.
	_, err = v.Validate(context.Background(), "ST-unknown", service)
	assert.ErrorIs(t, err, validator.ErrNoPrincipal)
}

func TestUnknownUserRejected(t *testing.T) {
	srv := newMockServer(t)

	resp, err := http.PostForm(srv.URL+"/cas/login", url.Values{
		"username": {"mallory"},
		"service":  {"https://app.example.org/callback"},
	})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
