package security

import (
	"testing"
	"time"
)

func TestHashAndVerify(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatal(err)
	}
	if !VerifyPassword(hash, "s3cret") {
		t.Fatal("correct password rejected")
	}
	if VerifyPassword(hash, "wrong") {
		t.Fatal("wrong password accepted")
	}
}

func TestVerifyPlainFallback(t *testing.T) {
	if !VerifyPassword("legacy", "legacy") {
		t.Fatal("plain stored password rejected")
	}
	if VerifyPassword("", "") {
		t.Fatal("empty stored password must never match")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	token, err := SignAdminToken("secret", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := ParseAdminToken("secret", token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Subject != "admin" {
		t.Fatalf("subject %q, want admin", claims.Subject)
	}
}

func TestTokenRejections(t *testing.T) {
	token, err := SignAdminToken("secret", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err = ParseAdminToken("other-secret", token); err == nil {
		t.Fatal("wrong secret accepted")
	}
	if _, err = ParseAdminToken("secret", "not-a-token"); err == nil {
		t.Fatal("garbage token accepted")
	}

	expired, err := SignAdminToken("secret", -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err = ParseAdminToken("secret", expired); err == nil {
		t.Fatal("expired token accepted")
	}
}

func TestSignRequiresSecret(t *testing.T) {
	if _, err := SignAdminToken(" ", time.Hour); err == nil {
		t.Fatal("empty secret accepted")
	}
}
