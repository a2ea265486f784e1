package core

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestSetup runs a fake CAS server and a demo service provider wired
// against it. The fake server validates any ticket as the given user.
func newTestSetup(t *testing.T, casUser string) (*httptest.Server, *httptest.Server) {
	t.Helper()

	cas := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/serviceValidate") {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, `<cas:serviceResponse xmlns:cas="http://www.yale.edu/tp/cas">
  <cas:authenticationSuccess><cas:user>%s</cas:user></cas:authenticationSuccess>
</cas:serviceResponse>`, casUser)
	}))
	t.Cleanup(cas.Close)

	cfg := &Config{
		Environment:     "development",
		BaseURL:         "http://app.example.org",
		CasServerURL:    cas.URL + "/cas",
		ProtocolVersion: 2,
		CallbackPath:    "/auth/callback",
		StateKey:        "test-state-key-test-state-key-32",
		SessionTTL:      time.Hour,
		CORSOrigins:     []string{"http://localhost:3000"},
	}

	boot, err := Bootstrap(cfg, nil, logr.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { boot.Close() })

	srv := NewServer(cfg, boot.Handshake, boot.Store, logr.Discard())
	app := httptest.NewServer(srv.Router())
	t.Cleanup(app.Close)

	return cas, app
}

func noRedirectClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func jsonDecode(resp *http.Response, v any) error {
	return json.NewDecoder(resp.Body).Decode(v)
}

func cookieByName(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// signIn drives challenge and callback against app and returns the
// session cookie and the post-login redirect target.
func signIn(t *testing.T, app *httptest.Server, returnURL, ticket string) (*http.Cookie, string) {
	t.Helper()
	client := noRedirectClient()

	resp, err := client.Get(app.URL + "/auth/login?return=" + url.QueryEscape(returnURL))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	nonce := cookieByName(resp, nonceCookie)
	require.NotNil(t, nonce)

	loginURL, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	service, err := url.Parse(loginURL.Query().Get("service"))
	require.NoError(t, err)
	state := service.Query().Get("state")
	require.NotEmpty(t, state)

	cb, err := http.NewRequest(http.MethodGet,
		app.URL+"/auth/callback?state="+url.QueryEscape(state)+"&ticket="+url.QueryEscape(ticket), nil)
	require.NoError(t, err)
	cb.AddCookie(&http.Cookie{Name: nonceCookie, Value: nonce.Value})

	resp, err = client.Do(cb)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	return cookieByName(resp, sessionCookie), resp.Header.Get("Location")
}

func TestEndToEndSignIn(t *testing.T) {
	_, app := newTestSetup(t, "bob")

	session, target := signIn(t, app, "/home", "ST-1")
	require.NotNil(t, session)
	assert.Equal(t, "/home", target)
	assert.Equal(t, "ST-1", session.Value)

	// The session backs the profile endpoint.
	req, err := http.NewRequest(http.MethodGet, app.URL+"/me", nil)
	require.NoError(t, err)
	req.AddCookie(session)

	resp, err := noRedirectClient().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var profile ProfileResponse
	require.NoError(t, jsonDecode(resp, &profile))
	assert.Equal(t, "bob", profile.Subject)
	assert.Equal(t, "CAS", profile.AuthType)
}

func TestCallbackWithWrongNonceRejected(t *testing.T) {
	_, app := newTestSetup(t, "bob")
	client := noRedirectClient()

	resp, err := client.Get(app.URL + "/auth/login?return=/home")
	require.NoError(t, err)
	resp.Body.Close()

	loginURL, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	service, err := url.Parse(loginURL.Query().Get("service"))
	require.NoError(t, err)
	state := service.Query().Get("state")

	cb, err := http.NewRequest(http.MethodGet,
		app.URL+"/auth/callback?state="+url.QueryEscape(state)+"&ticket=ST-1", nil)
	require.NoError(t, err)
	cb.AddCookie(&http.Cookie{Name: nonceCookie, Value: "forged-nonce"})

	resp, err = client.Do(cb)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSingleLogoutTerminatesSession(t *testing.T) {
	_, app := newTestSetup(t, "bob")

	session, _ := signIn(t, app, "/home", "ST-42")
	require.NotNil(t, session)

	logout := fmt.Sprintf(`<samlp:LogoutRequest xmlns:samlp="urn:oasis:names:tc:SAML:2.0:protocol" ID="LR-1" Version="2.0">
  <samlp:SessionIndex>%s</samlp:SessionIndex>
</samlp:LogoutRequest>`, session.Value)

	resp, err := http.PostForm(app.URL+"/health", url.Values{"logoutRequest": {logout}})
	require.NoError(t, err)
	resp.Body.Close()

	// The session is gone; the profile endpoint re-challenges.
	req, err := http.NewRequest(http.MethodGet, app.URL+"/me", nil)
	require.NoError(t, err)
	req.AddCookie(session)

	resp, err = noRedirectClient().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Location"), "/auth/login")
}

func TestLogoutClearsSession(t *testing.T) {
	_, app := newTestSetup(t, "bob")

	session, _ := signIn(t, app, "/", "ST-7")
	require.NotNil(t, session)

	req, err := http.NewRequest(http.MethodGet, app.URL+"/auth/logout", nil)
	require.NoError(t, err)
	req.AddCookie(session)

	resp, err := noRedirectClient().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	req, err = http.NewRequest(http.MethodGet, app.URL+"/me", nil)
	require.NoError(t, err)
	req.AddCookie(session)

	resp, err = noRedirectClient().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	_, app := newTestSetup(t, "bob")

	resp, err := http.Get(app.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health HealthResponse
	require.NoError(t, jsonDecode(resp, &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 2, health.Version)
}
