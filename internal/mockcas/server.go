// Package mockcas provides a small CAS server for demonstrations and
// development: a login page that signs in one of a fixed set of demo
// users, and the three validation endpoints the client speaks.
package mockcas

import (
	"fmt"
	"html"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const ticketTTL = 30 * time.Second

// User is a demo account known to the mock server.
type User struct {
	Name       string
	Attributes map[string][]string
}

type issuedTicket struct {
	user    User
	service string
	issued  time.Time
}

// Server is an in-memory CAS server. Tickets are single use and expire
// after thirty seconds, like the real protocol's service tickets.
type Server struct {
	mu      sync.Mutex
	users   map[string]User
	tickets map[string]issuedTicket
}

// NewServer creates a mock CAS server preloaded with demo users.
func NewServer() *Server {
	s := &Server{
		users:   make(map[string]User),
		tickets: make(map[string]issuedTicket),
	}
	s.AddUser(User{
		Name: "alice",
		Attributes: map[string][]string{
			"mail":        {"alice@example.org"},
			"affiliation": {"staff", "faculty"},
		},
	})
	s.AddUser(User{
		Name: "bob",
		Attributes: map[string][]string{
			"mail": {"bob@example.org"},
		},
	})
	return s
}

// AddUser registers a demo account.
func (s *Server) AddUser(u User) {
	s.mu.Lock()
	s.users[u.Name] = u
	s.mu.Unlock()
}

// RegisterRoutes mounts the CAS endpoints on router.
func (s *Server) RegisterRoutes(router chi.Router) {
	router.Get("/login", s.handleLoginPage)
	router.Post("/login", s.handleLoginSubmit)
	router.Get("/validate", s.handleValidateV1)
	router.Get("/serviceValidate", s.handleServiceValidate(false))
	router.Get("/p3/serviceValidate", s.handleServiceValidate(true))
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	service := r.URL.Query().Get("service")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!doctype html>
<title>Mock CAS</title>
<h1>Mock CAS login</h1>
<form method="post">
  <input type="hidden" name="service" value="%s">
  <label>User <input name="username" value="alice"></label>
  <button type="submit">Sign in</button>
</form>`, html.EscapeString(service))
}

func (s *Server) handleLoginSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	service := r.PostFormValue("service")
	username := r.PostFormValue("username")

	s.mu.Lock()
	user, ok := s.users[username]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "unknown user", http.StatusUnauthorized)
		return
	}
	if service == "" {
		http.Error(w, "service is required", http.StatusBadRequest)
		return
	}

	ticket := "ST-" + uuid.NewString()
	s.mu.Lock()
	s.tickets[ticket] = issuedTicket{user: user, service: service, issued: time.Now()}
	s.mu.Unlock()

	target, err := url.Parse(service)
	if err != nil {
		http.Error(w, "bad service", http.StatusBadRequest)
		return
	}
	q := target.Query()
	q.Set("ticket", ticket)
	target.RawQuery = q.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// redeem consumes a ticket, enforcing single use, expiry and the
// service-match rule of the protocol.
func (s *Server) redeem(ticket, service string) (User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[ticket]
	if !ok {
		return User{}, false
	}
	delete(s.tickets, ticket)

	if time.Since(t.issued) > ticketTTL || t.service != service {
		return User{}, false
	}
	return t.user, true
}

func (s *Server) handleValidateV1(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	user, ok := s.redeem(r.URL.Query().Get("ticket"), r.URL.Query().Get("service"))
	if !ok {
		fmt.Fprint(w, "no\n\n")
		return
	}
	fmt.Fprintf(w, "yes\n%s\n", user.Name)
}

func (s *Server) handleServiceValidate(withAttributes bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		ticket := r.URL.Query().Get("ticket")

		user, ok := s.redeem(ticket, r.URL.Query().Get("service"))
		if !ok {
			fmt.Fprintf(w, `<cas:serviceResponse xmlns:cas="http://www.yale.edu/tp/cas">
  <cas:authenticationFailure code="INVALID_TICKET">Ticket %s not recognized</cas:authenticationFailure>
</cas:serviceResponse>`, html.EscapeString(ticket))
			return
		}

		attrs := ""
		if withAttributes && len(user.Attributes) > 0 {
			attrs = "\n    <cas:attributes>"
			for key, values := range user.Attributes {
				for _, v := range values {
					attrs += fmt.Sprintf("\n      <cas:%s>%s</cas:%s>", key, html.EscapeString(v), key)
				}
			}
			attrs += "\n    </cas:attributes>"
		}

		fmt.Fprintf(w, `<cas:serviceResponse xmlns:cas="http://www.yale.edu/tp/cas">
  <cas:authenticationSuccess>
    <cas:user>%s</cas:user>%s
  </cas:authenticationSuccess>
</cas:serviceResponse>`, html.EscapeString(user.Name), attrs)
	}
}
