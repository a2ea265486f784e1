package validator

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/sso-tools/cascade/pkg/assertion"
)

// parseV1Response parses a CAS 1.0 plain-text body. Line 1 is "yes" or
// "no"; on "yes" line 2 is the principal name. Short or malformed bodies
// are treated as a rejection rather than a protocol error, since CAS 1.0
// servers vary in how strictly they render the negative form.
func parseV1Response(body []byte) (string, error) {
	lines := strings.Split(strings.ReplaceAll(string(body), "\r\n", "\n"), "\n")
	if strings.TrimSpace(lines[0]) != "yes" || len(lines) < 2 {
		return "", ErrNoPrincipal
	}
	name := strings.TrimSpace(lines[1])
	if name == "" {
		return "", ErrNoPrincipal
	}
	return name, nil
}

// serviceResponse mirrors the cas:serviceResponse document in the
// http://www.yale.edu/tp/cas namespace.
type serviceResponse struct {
	XMLName xml.Name               `xml:"serviceResponse"`
	Failure *authenticationFailure `xml:"authenticationFailure"`
	Success *authenticationSuccess `xml:"authenticationSuccess"`
}

type authenticationFailure struct {
	Code    string `xml:"code,attr"`
	Message string `xml:",chardata"`
}

type authenticationSuccess struct {
	User       string             `xml:"user"`
	Attributes *successAttributes `xml:"attributes"`
}

// successAttributes keeps the raw child elements so repeated names
// accumulate multiple values in document order.
type successAttributes struct {
	Items []attributeElement `xml:",any"`
}

type attributeElement struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

// parseServiceResponse parses a CAS 2.0/3.0 XML body. withAttributes
// selects the 3.0 behavior of populating the attribute map; 2.0 ignores
// any attribute block per protocol.
func parseServiceResponse(body []byte, withAttributes bool) (string, *assertion.Attributes, error) {
	var resp serviceResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return "", nil, fmt.Errorf("cas: malformed validation response: %w", err)
	}

	if resp.Failure != nil {
		return "", nil, &AuthenticationError{
			Code:    resp.Failure.Code,
			Message: strings.TrimSpace(resp.Failure.Message),
		}
	}

	if resp.Success == nil || strings.TrimSpace(resp.Success.User) == "" {
		return "", nil, ErrNoPrincipal
	}

	name := strings.TrimSpace(resp.Success.User)
	if !withAttributes || resp.Success.Attributes == nil {
		return name, nil, nil
	}

	attrs := assertion.NewAttributes()
	for _, item := range resp.Success.Attributes.Items {
		attrs.Add(item.XMLName.Local, strings.TrimSpace(item.Value))
	}
	return name, attrs, nil
}
