// Package qr builds and parses the QR payload exchanged between initiator
// and approver. Rendering the image and decoding it with a camera happen
// client-side; only the payload format is owned here.
package qr

import (
	"fmt"
	"net/url"
	"strings"
)

const scanPath = "/scan"

// Payload carries exactly the two fields that bind a scan to one rendered
// QR instance.
type Payload struct {
	SessionID string
	Challenge string
}

// BuildURL renders the payload as the URL embedded in the QR image.
func BuildURL(baseURL string, p Payload) string {
	q := url.Values{}
	q.Set("session", p.SessionID)
	q.Set("challenge", p.Challenge)
	return strings.TrimRight(baseURL, "/") + scanPath + "?" + q.Encode()
}

// Parse extracts the payload from a scanned URL. The approver must reject a
// payload missing either field before calling validate.
func Parse(raw string) (Payload, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Payload{}, fmt.Errorf("parse qr payload: %w", err)
	}

	q := u.Query()
	p := Payload{
		SessionID: q.Get("session"),
		Challenge: q.Get("challenge"),
	}

	if p.SessionID == "" {
		return Payload{}, fmt.Errorf("qr payload missing session")
	}
	if p.Challenge == "" {
		return Payload{}, fmt.Errorf("qr payload missing challenge")
	}

	return p, nil
}
