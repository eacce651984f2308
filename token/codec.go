package token

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the JWT signing algorithm used by a [Codec].
type SigningMethod string

const (
	// MethodEd25519 signs with EdDSA over Curve25519. Preferred in
	// production because verification needs only the public key.
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs with a shared HMAC secret. Useful for tests and
	// single-process deployments.
	MethodHS256 SigningMethod = "hs256"
)

// Type distinguishes the two token shapes a [Codec] produces. A token of one
// type never validates as the other.
type Type string

const (
	// TypeAccess marks short-lived tokens presented on every request.
	TypeAccess Type = "access"
	// TypeRefresh marks long-lived tokens presented only to mint a new pair.
	TypeRefresh Type = "refresh"
)

// Config holds the immutable signing parameters for a [Codec].
type Config struct {
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	MaxFutureIAT  time.Duration
}

// Claims is the payload carried by both access and refresh tokens. The
// session identifier binds a token to its server-side session record; the
// typ claim prevents a refresh token from passing as an access token.
type Claims struct {
	SID   string   `json:"sid"`
	Kind  string   `json:"knd"`
	Roles []string `json:"rls,omitempty"`
	Name  string   `json:"nam,omitempty"`
	Typ   string   `json:"typ"`
	jwt.RegisteredClaims
}

// Codec signs and verifies the token pair. Safe for concurrent use.
type Codec struct {
	config Config
}

// NewCodec validates the signing configuration and returns a [Codec].
func NewCodec(cfg Config) (*Codec, error) {
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires private key")
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) > 0 {
			if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.PublicKey) == 0 {
			return nil, errors.New("ed25519 requires public key")
		}
		if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("unsupported signing method")
	}

	return &Codec{config: cfg}, nil
}

// Issue signs a token of the given type. The caller decides the lifetime
// because access and refresh budgets differ. A non-positive TTL produces a
// token that is already expired and will never parse.
func (c *Codec) Issue(
	subject string,
	sessionID string,
	kind string,
	roles []string,
	name string,
	typ Type,
	ttl time.Duration,
) (string, error) {
	now := time.Now()
	claims := Claims{
		SID:   sessionID,
		Kind:  kind,
		Roles: roles,
		Name:  name,
		Typ:   string(typ),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    c.config.Issuer,
		},
	}
	if c.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{c.config.Audience}
	}

	token := jwt.NewWithClaims(c.getMethod(), claims)

	signKey, err := c.getSignKey()
	if err != nil {
		return "", err
	}

	return token.SignedString(signKey)
}

// Parse verifies the signature and registered claims, then enforces that the
// token carries the expected type. A refresh token presented where an access
// token is required fails here, before any store lookup.
func (c *Codec) Parse(tokenStr string, wantType Type) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.getMethod().Alg()}),
		jwt.WithIssuedAt(),
	}
	if c.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(c.config.Leeway))
	}
	if c.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(c.config.Issuer))
	}
	if c.config.Audience != "" {
		options = append(options, jwt.WithAudience(c.config.Audience))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != c.getMethod().Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return c.getVerifyKey()
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.Typ != string(wantType) {
		return nil, fmt.Errorf("unexpected token type %q", claims.Typ)
	}
	if claims.Subject == "" || claims.SID == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.IssuedAt != nil && c.config.MaxFutureIAT > 0 {
		maxAllowed := time.Now().Add(c.config.MaxFutureIAT)
		if claims.IssuedAt.Time.After(maxAllowed) {
			return nil, errors.New("token iat too far in the future")
		}
	}
	// A token born expired is invalid from the first instant; leeway only
	// absorbs clock skew between issuer and verifier.
	if claims.ExpiresAt != nil && claims.IssuedAt != nil &&
		!claims.ExpiresAt.Time.After(claims.IssuedAt.Time) {
		return nil, jwt.ErrTokenExpired
	}

	return claims, nil
}

func (c *Codec) getMethod() jwt.SigningMethod {
	switch c.config.SigningMethod {
	case MethodHS256:
		return jwt.SigningMethodHS256
	default:
		return jwt.SigningMethodEdDSA
	}
}

func (c *Codec) getSignKey() (interface{}, error) {
	switch c.config.SigningMethod {
	case MethodHS256:
		return c.config.PrivateKey, nil
	default:
		return parseEdPrivateKey(c.config.PrivateKey)
	}
}

func (c *Codec) getVerifyKey() (interface{}, error) {
	switch c.config.SigningMethod {
	case MethodHS256:
		return c.config.PrivateKey, nil
	default:
		return parseEdPublicKey(c.config.PublicKey)
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
