package devbackend

import (
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AssertionTTL bounds how long an issued assertion is accepted.
const AssertionTTL = 5 * time.Minute

// ErrInvalidAssertion is returned for SAML responses the ACS rejects.
var ErrInvalidAssertion = errors.New("invalid SAML assertion")

// samlResponse is the subset of a SAML 2.0 protocol Response the dev
// identity provider issues. Assertions are not signed.
type samlResponse struct {
	XMLName      xml.Name      `xml:"Response"`
	ID           string        `xml:"ID,attr"`
	Version      string        `xml:"Version,attr"`
	IssueInstant time.Time     `xml:"IssueInstant,attr"`
	Issuer       string        `xml:"Issuer"`
	Assertion    samlAssertion `xml:"Assertion"`
}

type samlAssertion struct {
	ID      string `xml:"ID,attr"`
	Subject struct {
		NameID string `xml:"NameID"`
	} `xml:"Subject"`
	Conditions struct {
		NotBefore    time.Time `xml:"NotBefore,attr"`
		NotOnOrAfter time.Time `xml:"NotOnOrAfter,attr"`
	} `xml:"Conditions"`
}

// encodeAssertion returns the base64 encoded POST binding value for username.
func encodeAssertion(username string, now time.Time) (string, error) {
	resp := samlResponse{
		ID:           "_" + uuid.NewString(),
		Version:      "2.0",
		IssueInstant: now.UTC(),
		Issuer:       Issuer,
	}

	resp.Assertion.ID = "_" + uuid.NewString()
	resp.Assertion.Subject.NameID = username
	resp.Assertion.Conditions.NotBefore = now.UTC()
	resp.Assertion.Conditions.NotOnOrAfter = now.Add(AssertionTTL).UTC()

	raw, err := xml.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("encode assertion: %w", err)
	}

	return base64.StdEncoding.EncodeToString(append([]byte(xml.Header), raw...)), nil
}

// decodeAssertion returns the NameID of a POST binding value that is
// currently valid.
func decodeAssertion(value string, now time.Time) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidAssertion, err)
	}

	var resp samlResponse
	if err = xml.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidAssertion, err)
	}

	cond := resp.Assertion.Conditions

	switch {
	case resp.Assertion.Subject.NameID == "":
		return "", fmt.Errorf("%w: no name id", ErrInvalidAssertion)
	case now.Before(cond.NotBefore.Add(-time.Minute)):
		return "", fmt.Errorf("%w: not yet valid", ErrInvalidAssertion)
	case !now.Before(cond.NotOnOrAfter):
		return "", fmt.Errorf("%w: expired", ErrInvalidAssertion)
	}

	return resp.Assertion.Subject.NameID, nil
}
