package handshake

// Properties is the correlation state carried across one challenge/callback
// cycle. It travels through the state codec as an opaque, tamper-evident
// string and is absorbed into the final session on success.
type Properties struct {
	// Nonce is the anti-CSRF correlation token generated at challenge
	// time and checked again at callback.
	Nonce string `json:"nonce"`

	// ReturnURL is where the user agent should land after a successful
	// sign-in.
	ReturnURL string `json:"return_url"`

	// TicketID is the CAS service ticket recorded on success so the
	// session store can correlate a later single-logout notification.
	TicketID string `json:"ticket_id,omitempty"`
}
