package credential

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"licensing-controlplane/pkg/config"
	"licensing-controlplane/pkg/signature"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"go.uber.org/fx"
)

// ScopeActivation is carried by the short-lived credential handed out after a
// successful activation. It only authorizes first-run configuration.
const ScopeActivation = "license_activation"

const DefaultTTL = 15 * time.Minute

var (
	ErrInvalidToken = errors.New("credential: invalid token")
	ErrWrongScope   = errors.New("credential: unexpected scope")
)

var Module = fx.Module("credential", fx.Provide(ProvideIssuer))

type Claims struct {
	Scope        string `json:"scope"`
	TenantID     string `json:"tenant_id"`
	LicenseID    string `json:"license_id"`
	ActivationID string `json:"activation_id"`
	InstanceID   string `json:"instance_id,omitempty"`
}

type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	Scope       string    `json:"scope"`
	ExpiresIn   int64     `json:"expires_in"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Issuer mints and verifies RS256 activation credentials.
type Issuer struct {
	signer jose.Signer
	public *rsa.PublicKey
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func ProvideIssuer(cfg *config.Config, keys *signature.Keyring) (*Issuer, error) {
	return NewIssuer(keys, cfg.License.Issuer, cfg.License.ActivationTokenTTL)
}

func NewIssuer(keys *signature.Keyring, issuer string, ttl time.Duration) (*Issuer, error) {
	if keys == nil || keys.PrivateKey() == nil {
		return nil, signature.ErrNoPrivateKey
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	opts := (&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", keys.KeyID())
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.RS256, Key: keys.PrivateKey()}, opts)
	if err != nil {
		return nil, fmt.Errorf("credential: new signer: %w", err)
	}

	return &Issuer{
		signer: signer,
		public: keys.PublicKey(),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

func (i *Issuer) Issue(c Claims) (*Token, error) {
	now := i.now().UTC()
	exp := now.Add(i.ttl)
	c.Scope = ScopeActivation

	std := jwt.Claims{
		Issuer:    i.issuer,
		Subject:   c.TenantID,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		Expiry:    jwt.NewNumericDate(exp),
		ID:        c.ActivationID,
	}

	raw, err := jwt.Signed(i.signer).Claims(std).Claims(c).Serialize()
	if err != nil {
		return nil, fmt.Errorf("credential: sign: %w", err)
	}

	return &Token{
		AccessToken: raw,
		TokenType:   "Bearer",
		Scope:       ScopeActivation,
		ExpiresIn:   int64(i.ttl.Seconds()),
		ExpiresAt:   exp,
	}, nil
}

func (i *Issuer) Verify(raw string) (*Claims, error) {
	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.RS256})
	if err != nil {
		return nil, ErrInvalidToken
	}

	var std jwt.Claims
	var c Claims
	if err := tok.Claims(i.public, &std, &c); err != nil {
		return nil, ErrInvalidToken
	}

	if err := std.ValidateWithLeeway(jwt.Expected{Issuer: i.issuer, Time: i.now()}, 0); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if c.Scope != ScopeActivation {
		return nil, ErrWrongScope
	}

	return &c, nil
}
