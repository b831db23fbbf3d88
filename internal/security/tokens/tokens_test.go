package tokens

import (
	"encoding/base64"
	"testing"
)

func TestGenerateOpaqueToken(t *testing.T) {
	a, err := GenerateOpaqueToken(32)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	b, err := GenerateOpaqueToken(32)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if a == b {
		t.Fatal("dos tokens consecutivos no deberían coincidir")
	}
	raw, err := base64.RawURLEncoding.DecodeString(a)
	if err != nil {
		t.Fatalf("el token debe ser base64url sin padding: %v", err)
	}
	if len(raw) != 32 {
		t.Fatalf("esperaba 32 bytes, obtuvo %d", len(raw))
	}
}

func TestGenerateHMACSecret_Length(t *testing.T) {
	s, err := GenerateHMACSecret(32)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(s) != 32 {
		t.Fatalf("esperaba 32 bytes, obtuvo %d", len(s))
	}
}

func TestSHA256Base64URL_Deterministic(t *testing.T) {
	if SHA256Base64URL("hola") != SHA256Base64URL("hola") {
		t.Fatal("el hash debe ser determinístico")
	}
	if SHA256Base64URL("hola") == SHA256Base64URL("hola ") {
		t.Fatal("entradas distintas no deben colisionar")
	}
}

func TestConstantTimeEqual(t *testing.T) {
	if !ConstantTimeEqual("secreto", "secreto") {
		t.Fatal("iguales debió dar true")
	}
	if ConstantTimeEqual("secreto", "secretO") {
		t.Fatal("distintos debió dar false")
	}
	if ConstantTimeEqual("secreto", "secret") {
		t.Fatal("longitudes distintas debió dar false")
	}
}
