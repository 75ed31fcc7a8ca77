// Package qstash verifies and publishes Upstash QStash messages.
package qstash

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const (
	HeaderSignature = "Upstash-Signature"
	HeaderMessageID = "Upstash-Message-Id"
	HeaderRetried   = "Upstash-Retried"

	issuer = "Upstash"
)

var (
	ErrMissingSignature = errors.New("qstash: missing signature")
	ErrInvalidSignature = errors.New("qstash: invalid signature")
	ErrBodyMismatch     = errors.New("qstash: body hash mismatch")
)

type Claims struct {
	Body string `json:"body"`
	jwt.RegisteredClaims
}

// Verifier checks Upstash-Signature headers against the current and next signing keys.
type Verifier struct {
	keys    [][]byte
	subject string
	skip    bool
}

// NewVerifier creates a Verifier. When subject is non-empty the token's sub
// claim must equal it. skip disables verification for local development.
func NewVerifier(currentKey, nextKey, subject string, skip bool) *Verifier {
	v := &Verifier{subject: subject, skip: skip}
	for _, k := range []string{currentKey, nextKey} {
		if k != "" {
			v.keys = append(v.keys, []byte(k))
		}
	}
	return v
}

// Verify validates signature for body. Any key that validates the token is accepted.
func (v *Verifier) Verify(signature string, body []byte) error {
	if v.skip {
		return nil
	}
	if signature == "" {
		return ErrMissingSignature
	}
	if len(v.keys) == 0 {
		return fmt.Errorf("%w: no signing keys configured", ErrInvalidSignature)
	}

	var lastErr error
	for _, key := range v.keys {
		err := v.verifyWithKey(signature, body, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrBodyMismatch) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%w: %v", ErrInvalidSignature, lastErr)
}

func (v *Verifier) verifyWithKey(signature string, body, key []byte) error {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	}
	if v.subject != "" {
		opts = append(opts, jwt.WithSubject(v.subject))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(signature, claims, func(*jwt.Token) (any, error) {
		return key, nil
	}, opts...)
	if err != nil {
		return err
	}

	if strings.TrimRight(claims.Body, "=") != BodyHash(body) {
		return ErrBodyMismatch
	}
	return nil
}

// BodyHash returns the unpadded base64url SHA-256 digest carried in the body claim.
func BodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
