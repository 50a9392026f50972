// Package auth verifies staff session tokens and turns them into a
// common.Principal. Tokens are issued by the external session service; Issue
// exists for the seeder and tests.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/noah-isme/kopi-pos/internal/common"
)

const (
	claimRole   = "role"
	claimBranch = "branch_id"
)

// ErrInvalidToken is returned for any token that fails verification.
var ErrInvalidToken = common.NewAppError("UNAUTHENTICATED", "invalid or expired session", http.StatusUnauthorized, nil)

// Config configures a Verifier.
type Config struct {
	Secret    string
	Issuer    string
	Audience  string
	ClockSkew time.Duration
}

// Verifier checks HS256 session tokens.
type Verifier struct {
	secret    []byte
	issuer    string
	audience  string
	clockSkew time.Duration
	now       func() time.Time
}

// NewVerifier validates cfg and returns a Verifier.
func NewVerifier(cfg Config) (*Verifier, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if len(secret) < 16 {
		return nil, errors.New("auth: secret must be at least 16 characters")
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = "kopi-pos"
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		audience = "kopi-pos-staff"
	}
	return &Verifier{
		secret:    []byte(secret),
		issuer:    issuer,
		audience:  audience,
		clockSkew: max(cfg.ClockSkew, 0),
		now:       time.Now,
	}, nil
}

// WithNow overrides the clock.
func (v *Verifier) WithNow(now func() time.Time) {
	if now != nil {
		v.now = now
	}
}

// Issue signs a session for p valid for ttl.
func (v *Verifier) Issue(p common.Principal, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(p.UserID) == "" {
		return "", time.Time{}, errors.New("auth: user id is required")
	}
	now := v.now()
	expiresAt := now.Add(ttl)
	builder := jwt.NewBuilder().
		Subject(p.UserID).
		Issuer(v.issuer).
		Audience([]string{v.audience}).
		IssuedAt(now).
		NotBefore(now.Add(-v.clockSkew)).
		Expiration(expiresAt).
		Claim(claimRole, p.Role)
	if p.BranchID != "" {
		builder = builder.Claim(claimBranch, p.BranchID)
	}
	tok, err := builder.Build()
	if err != nil {
		return "", time.Time{}, err
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, v.secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return string(signed), expiresAt, nil
}

// Parse verifies token and returns the principal it carries.
func (v *Verifier) Parse(token string) (common.Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return common.Principal{}, ErrInvalidToken
	}
	if err := requireHS256(token); err != nil {
		return common.Principal{}, ErrInvalidToken.WithErr(err)
	}
	opts := []jwt.ParseOption{
		jwt.WithKey(jwa.HS256, v.secret),
		jwt.WithValidate(true),
		jwt.WithClock(jwt.ClockFunc(v.now)),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
	}
	if v.clockSkew > 0 {
		opts = append(opts, jwt.WithAcceptableSkew(v.clockSkew))
	}
	tok, err := jwt.ParseString(token, opts...)
	if err != nil {
		return common.Principal{}, ErrInvalidToken.WithErr(err)
	}
	p := common.Principal{UserID: tok.Subject()}
	if raw, ok := tok.Get(claimRole); ok {
		p.Role, _ = raw.(string)
	}
	if raw, ok := tok.Get(claimBranch); ok {
		p.BranchID, _ = raw.(string)
	}
	if p.UserID == "" || p.Role == "" {
		return common.Principal{}, ErrInvalidToken.WithErr(errors.New("auth: token lacks subject or role"))
	}
	return p, nil
}

// requireHS256 rejects tokens signed with any other algorithm before the
// signature is checked.
func requireHS256(token string) error {
	msg, err := jws.ParseString(token)
	if err != nil {
		return err
	}
	sigs := msg.Signatures()
	if len(sigs) != 1 {
		return fmt.Errorf("auth: expected one signature, got %d", len(sigs))
	}
	headers := sigs[0].ProtectedHeaders()
	if headers == nil || headers.Algorithm() != jwa.HS256 {
		return errors.New("auth: unexpected token algorithm")
	}
	return nil
}
