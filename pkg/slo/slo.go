// Package slo processes CAS single-logout notifications: a server-to-client
// POST carrying a SAML LogoutRequest whose SessionIndex names the service
// ticket of the session to invalidate.
package slo

import (
	"encoding/xml"
	"mime"
	"net/http"
	"strings"

	"github.com/go-logr/logr"

	"github.com/sso-tools/cascade/pkg/ticketstore"
)

// logoutRequest is the subset of the SAML LogoutRequest document the
// processor cares about.
type logoutRequest struct {
	XMLName      xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:protocol LogoutRequest"`
	SessionIndex string   `xml:"urn:oasis:names:tc:SAML:2.0:protocol SessionIndex"`
}

// Middleware returns a transparent pipeline stage that watches for logout
// notifications and removes the matching session from store. Every
// request, matching or not, continues down the chain; the CAS server
// expects no response body and retries nothing, so processing never
// fails the pipeline.
func Middleware(store ticketstore.Store, logger logr.Logger) func(http.Handler) http.Handler {
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if payload, ok := logoutPayload(r); ok {
				process(r, store, logger, payload)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// logoutPayload extracts the logoutRequest form field from a form-encoded
// POST. Only this shape is recognized; JSON and other content types pass
// through untouched.
func logoutPayload(r *http.Request) (string, bool) {
	if r.Method != http.MethodPost {
		return "", false
	}
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/x-www-form-urlencoded" {
		return "", false
	}
	if err := r.ParseForm(); err != nil {
		return "", false
	}
	payload := r.PostForm.Get("logoutRequest")
	return payload, payload != ""
}

func process(r *http.Request, store ticketstore.Store, logger logr.Logger, payload string) {
	var req logoutRequest
	if err := xml.Unmarshal([]byte(payload), &req); err != nil {
		logger.V(1).Info("discarding malformed logout request", "error", err.Error())
		return
	}

	key := strings.TrimSpace(req.SessionIndex)
	if key == "" {
		logger.V(1).Info("logout request without session index")
		return
	}

	if err := store.Remove(r.Context(), key); err != nil {
		logger.Error(err, "failed to remove session for logout", "key", key)
		return
	}
	logger.V(1).Info("session removed by single logout", "key", key)
}
