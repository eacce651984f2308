package token

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"
)

// FuzzParse exercises the token parser with arbitrary strings.
// Goal: no panics; invalid inputs must be rejected with errors.
func FuzzParse(f *testing.F) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		f.Fatal(err)
	}
	codec, err := NewCodec(Config{
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		Issuer:        "fuzz-test",
		Leeway:        30 * time.Second,
	})
	if err != nil {
		f.Fatal(err)
	}

	validToken, err := codec.Issue("u1", "s1", "USER", []string{"reader"}, "", TypeAccess, 5*time.Minute)
	if err != nil {
		f.Fatal(err)
	}

	f.Add(validToken)
	f.Add("")
	f.Add("not.a.jwt")
	f.Add("eyJhbGciOiJFZERTQSJ9.eyJzdWIiOiJ0ZXN0In0.invalid")
	f.Add("eyJhbGciOiJub25lIn0.eyJzdWIiOiJ0ZXN0In0.")

	f.Fuzz(func(t *testing.T, input string) {
		claims, err := codec.Parse(input, TypeAccess)
		if err != nil {
			return
		}
		if claims == nil {
			t.Fatal("Parse returned nil claims without error")
		}
	})
}
