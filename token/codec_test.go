package token

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

func newEdKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return pub, priv
}

func newTestCodec(t *testing.T) (*Codec, ed25519.PrivateKey) {
	t.Helper()
	pub, priv := newEdKeys(t)
	c, err := NewCodec(Config{
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		Issuer:        "authcore",
		Audience:      "api",
		Leeway:        30 * time.Second,
	})
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	return c, priv
}

func TestIssueParseRoundTrip(t *testing.T) {
	c, _ := newTestCodec(t)

	raw, err := c.Issue("u1", "s1", "USER", []string{"reader", "writer"}, "Alice", TypeAccess, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := c.Parse(raw, TypeAccess)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "u1" || claims.SID != "s1" || claims.Kind != "USER" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if len(claims.Roles) != 2 || claims.Roles[0] != "reader" {
		t.Fatalf("unexpected roles: %v", claims.Roles)
	}
}

func TestParseRejectsWrongTokenType(t *testing.T) {
	c, _ := newTestCodec(t)

	refresh, err := c.Issue("u1", "s1", "USER", nil, "", TypeRefresh, time.Hour)
	if err != nil {
		t.Fatalf("issue refresh: %v", err)
	}

	if _, err := c.Parse(refresh, TypeAccess); err == nil {
		t.Fatal("expected refresh token to be rejected as access")
	}
	if _, err := c.Parse(refresh, TypeRefresh); err != nil {
		t.Fatalf("expected refresh token to parse as refresh: %v", err)
	}
}

func TestParseRejectsWrongAlgorithm(t *testing.T) {
	c, _ := newTestCodec(t)

	claims := Claims{SID: "s1", Typ: string(TypeAccess), RegisteredClaims: gjwt.RegisteredClaims{
		Subject:   "u1",
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
		IssuedAt:  gjwt.NewNumericDate(time.Now()),
		Issuer:    "authcore",
		Audience:  gjwt.ClaimStrings{"api"},
	}}
	tok := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims)
	raw, err := tok.SignedString([]byte("secret-secret-secret-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	if _, err := c.Parse(raw, TypeAccess); err == nil {
		t.Fatal("expected wrong algorithm to be rejected")
	}
}

func TestParseRejectsTamperedSignature(t *testing.T) {
	c, _ := newTestCodec(t)

	raw, err := c.Issue("u1", "s1", "USER", nil, "", TypeAccess, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	tampered := raw[:len(raw)-2] + "xx"
	if _, err := c.Parse(tampered, TypeAccess); err == nil {
		t.Fatal("expected tampered token to be rejected")
	}
}

func TestParseIssuerAudienceAndExpiry(t *testing.T) {
	c, priv := newTestCodec(t)

	sign := func(claims Claims) string {
		t.Helper()
		tok := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, claims)
		raw, err := tok.SignedString(priv)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return raw
	}

	base := func() Claims {
		return Claims{SID: "s1", Typ: string(TypeAccess), RegisteredClaims: gjwt.RegisteredClaims{
			Subject:   "u1",
			Issuer:    "authcore",
			Audience:  gjwt.ClaimStrings{"api"},
			ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
			IssuedAt:  gjwt.NewNumericDate(time.Now()),
		}}
	}

	wrongIssuer := base()
	wrongIssuer.Issuer = "other"
	if _, err := c.Parse(sign(wrongIssuer), TypeAccess); err == nil {
		t.Fatal("expected wrong issuer to fail")
	}

	wrongAudience := base()
	wrongAudience.Audience = gjwt.ClaimStrings{"other-api"}
	if _, err := c.Parse(sign(wrongAudience), TypeAccess); err == nil {
		t.Fatal("expected wrong audience to fail")
	}

	withinLeeway := base()
	withinLeeway.ExpiresAt = gjwt.NewNumericDate(time.Now().Add(-15 * time.Second))
	if _, err := c.Parse(sign(withinLeeway), TypeAccess); err != nil {
		t.Fatalf("expected token within leeway to pass: %v", err)
	}

	expired := base()
	expired.ExpiresAt = gjwt.NewNumericDate(time.Now().Add(-2 * time.Minute))
	if _, err := c.Parse(sign(expired), TypeAccess); err == nil {
		t.Fatal("expected expired token to fail")
	}
}

func TestParseRejectsMissingSubjectOrSession(t *testing.T) {
	c, priv := newTestCodec(t)

	noSID := Claims{Typ: string(TypeAccess), RegisteredClaims: gjwt.RegisteredClaims{
		Subject:   "u1",
		Issuer:    "authcore",
		Audience:  gjwt.ClaimStrings{"api"},
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
		IssuedAt:  gjwt.NewNumericDate(time.Now()),
	}}
	tok := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, noSID)
	raw, err := tok.SignedString(priv)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := c.Parse(raw, TypeAccess); err == nil {
		t.Fatal("expected missing sid to be rejected")
	}
}

func TestIssueNonPositiveTTLNeverValidates(t *testing.T) {
	c, _ := newTestCodec(t)

	// Issuing with ttl <= 0 succeeds; the result is born expired and must
	// fail parse even while the test codec's 30s leeway could still cover
	// the raw expiry time.
	for _, ttl := range []time.Duration{-time.Minute, 0} {
		raw, err := c.Issue("u1", "s1", "USER", nil, "", TypeAccess, ttl)
		if err != nil {
			t.Fatalf("issue ttl=%v: %v", ttl, err)
		}
		if _, err := c.Parse(raw, TypeAccess); !errors.Is(err, gjwt.ErrTokenExpired) {
			t.Fatalf("ttl=%v: expected ErrTokenExpired, got %v", ttl, err)
		}
	}
}

func TestHS256RoundTrip(t *testing.T) {
	c, err := NewCodec(Config{
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("0123456789abcdef0123456789abcdef"),
		Issuer:        "authcore",
	})
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}

	raw, err := c.Issue("u1", "s1", "GUEST", nil, "", TypeAccess, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := c.Parse(raw, TypeAccess)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Kind != "GUEST" {
		t.Fatalf("unexpected kind: %q", claims.Kind)
	}
}

func TestNewCodecValidation(t *testing.T) {
	pub, priv := newEdKeys(t)

	cases := []struct {
		name string
		cfg  Config
	}{
		{"missing method", Config{}},
		{"hs256 without key", Config{SigningMethod: MethodHS256}},
		{"ed25519 without public key", Config{SigningMethod: MethodEd25519, PrivateKey: priv}},
		{"excessive leeway", Config{SigningMethod: MethodEd25519, PrivateKey: priv, PublicKey: pub, Leeway: 5 * time.Minute}},
		{"negative leeway", Config{SigningMethod: MethodEd25519, PrivateKey: priv, PublicKey: pub, Leeway: -time.Second}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewCodec(tc.cfg); err == nil {
				t.Fatal("expected config to be rejected")
			}
		})
	}
}
