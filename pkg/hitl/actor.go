package hitl

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/intake-labs/ire/pkg/canonical"
	"github.com/intake-labs/ire/pkg/fault"
)

// Verifier authenticates reviewer tokens. Corrections are accepted only
// from a verified human actor; the actor id is the token subject, never
// caller-supplied.
type Verifier struct {
	// HMACSecret verifies HS256 tokens when set.
	HMACSecret []byte
	// EdPublicKey verifies EdDSA tokens when set.
	EdPublicKey ed25519.PublicKey
}

// Verify checks signature, expiry and subject, and returns the actor
// id. Every failure is a validation fault; an unverifiable token never
// degrades into an anonymous submission.
func (v *Verifier) Verify(token string) (string, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"HS256", "EdDSA"}),
		jwt.WithExpirationRequired(),
	)
	claims := &jwt.RegisteredClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, v.keyFor)
	if err != nil {
		return "", fault.Wrap(fault.KindValidation, canonical.StageHITL, "reviewer_token_invalid", err)
	}
	if !parsed.Valid {
		return "", fault.New(fault.KindValidation, canonical.StageHITL, "reviewer_token_invalid")
	}
	if claims.Subject == "" {
		return "", fault.New(fault.KindValidation, canonical.StageHITL, "reviewer_token_missing_subject")
	}
	return claims.Subject, nil
}

func (v *Verifier) keyFor(t *jwt.Token) (any, error) {
	switch t.Method.(type) {
	case *jwt.SigningMethodHMAC:
		if len(v.HMACSecret) == 0 {
			return nil, errors.New("hmac secret not configured")
		}
		return v.HMACSecret, nil
	case *jwt.SigningMethodEd25519:
		if len(v.EdPublicKey) == 0 {
			return nil, errors.New("ed25519 key not configured")
		}
		return v.EdPublicKey, nil
	default:
		return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
	}
}
