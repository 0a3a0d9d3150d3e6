// Package signing issues and verifies short lived HMAC signed download URLs
// for report files.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

var (
	// ErrExpired is returned for a well formed URL past its expiry.
	ErrExpired = errors.New("signed url expired")
	// ErrInvalid is returned when parameters are missing or do not match.
	ErrInvalid = errors.New("invalid signature")
)

// Signer generates and validates HMAC based signatures.
type Signer struct {
	secret []byte
}

// NewSigner creates a Signer.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret}
}

// Sign returns the hex signature of a report id and expiry.
func (s *Signer) Sign(reportID string, expiresUnix int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s:%d", reportID, expiresUnix)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignedURL builds base?report=..&expires=..&signature=.. valid for ttl.
func (s *Signer) SignedURL(base, reportID string, now time.Time, ttl time.Duration) (string, time.Time) {
	expires := now.Add(ttl)
	q := url.Values{}
	q.Set("report", reportID)
	q.Set("expires", strconv.FormatInt(expires.Unix(), 10))
	q.Set("signature", s.Sign(reportID, expires.Unix()))
	return base + "?" + q.Encode(), expires
}

// Verify checks the parameters of a signed URL at time now.
func (s *Signer) Verify(reportID, expires, signature string, now time.Time) error {
	if reportID == "" || expires == "" || signature == "" {
		return ErrInvalid
	}
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return ErrInvalid
	}
	if !hmac.Equal([]byte(s.Sign(reportID, exp)), []byte(signature)) {
		return ErrInvalid
	}
	if time.Unix(exp, 0).Before(now) {
		return ErrExpired
	}
	return nil
}
