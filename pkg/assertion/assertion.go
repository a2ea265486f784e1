// Package assertion holds the validated identity model produced by CAS
// ticket validation: the assertion returned by the server and the principal
// that wraps it.
package assertion

import (
	"errors"
	"time"
)

// ErrEmptyPrincipalName is returned when an assertion is constructed
// without a subject.
var ErrEmptyPrincipalName = errors.New("assertion: principal name must not be empty")

// Attributes is an ordered multi-valued string map. Keys keep their
// insertion order and a key may map to more than one value, which is how
// CAS 3.0 reports repeated attribute elements.
type Attributes struct {
	keys   []string
	values map[string][]string
}

// NewAttributes creates an empty attribute map.
func NewAttributes() *Attributes {
	return &Attributes{values: make(map[string][]string)}
}

// Add appends a value under key, creating the key if needed.
func (a *Attributes) Add(key, value string) {
	if _, ok := a.values[key]; !ok {
		a.keys = append(a.keys, key)
	}
	a.values[key] = append(a.values[key], value)
}

// Get returns the first value for key, or "" when the key is absent.
func (a *Attributes) Get(key string) string {
	if vs := a.values[key]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// Values returns all values for key in insertion order.
func (a *Attributes) Values(key string) []string {
	vs := a.values[key]
	out := make([]string, len(vs))
	copy(out, vs)
	return out
}

// Keys returns the attribute keys in insertion order.
func (a *Attributes) Keys() []string {
	out := make([]string, len(a.keys))
	copy(out, a.keys)
	return out
}

// Len returns the number of distinct keys.
func (a *Attributes) Len() int {
	return len(a.keys)
}

func (a *Attributes) clone() *Attributes {
	c := NewAttributes()
	for _, k := range a.keys {
		for _, v := range a.values[k] {
			c.Add(k, v)
		}
	}
	return c
}

// Assertion is the validated identity returned by a CAS server for a
// service ticket. It is immutable after construction.
type Assertion struct {
	principalName string
	attributes    *Attributes
	validFrom     time.Time
	validUntil    time.Time
}

// New creates an assertion for the given subject. The attribute map is
// copied; attrs may be nil for an empty attribute set.
func New(principalName string, attrs *Attributes) (*Assertion, error) {
	return NewWithValidity(principalName, attrs, time.Time{}, time.Time{})
}

// NewWithValidity creates an assertion bounded by the given validity
// window. Zero times mean unbounded.
func NewWithValidity(principalName string, attrs *Attributes, validFrom, validUntil time.Time) (*Assertion, error) {
	if principalName == "" {
		return nil, ErrEmptyPrincipalName
	}
	if attrs == nil {
		attrs = NewAttributes()
	}
	return &Assertion{
		principalName: principalName,
		attributes:    attrs.clone(),
		validFrom:     validFrom,
		validUntil:    validUntil,
	}, nil
}

// PrincipalName returns the authenticated subject.
func (a *Assertion) PrincipalName() string {
	return a.principalName
}

// Attributes returns the assertion's attribute map. Callers must treat the
// returned map as read-only.
func (a *Assertion) Attributes() *Attributes {
	return a.attributes
}

// ValidFrom returns the start of the validity window, zero if unbounded.
func (a *Assertion) ValidFrom() time.Time {
	return a.validFrom
}

// ValidUntil returns the end of the validity window, zero if unbounded.
func (a *Assertion) ValidUntil() time.Time {
	return a.validUntil
}

// Principal wraps an assertion with an authentication scheme label and an
// optional explicit role list. It is read-only after construction.
type Principal struct {
	assertion  *Assertion
	authScheme string
	roles      []string
}

// NewPrincipal creates a principal around an assertion. roles may be nil.
func NewPrincipal(a *Assertion, authScheme string, roles []string) *Principal {
	rs := make([]string, len(roles))
	copy(rs, roles)
	return &Principal{assertion: a, authScheme: authScheme, roles: rs}
}

// Name returns the principal's subject name.
func (p *Principal) Name() string {
	return p.assertion.PrincipalName()
}

// Assertion returns the underlying assertion.
func (p *Principal) Assertion() *Assertion {
	return p.assertion
}

// AuthScheme returns the authentication scheme label, e.g. "CAS".
func (p *Principal) AuthScheme() string {
	return p.authScheme
}

// IsInRole reports whether name is in the explicit role list or appears as
// a value under any assertion attribute key.
func (p *Principal) IsInRole(name string) bool {
	for _, r := range p.roles {
		if r == name {
			return true
		}
	}
	attrs := p.assertion.Attributes()
	for _, k := range attrs.Keys() {
		for _, v := range attrs.Values(k) {
			if v == name {
				return true
			}
		}
	}
	return false
}
