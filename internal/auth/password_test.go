package auth

import "testing"

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("s3cret-pass")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hash == "s3cret-pass" {
		t.Fatal("hash must not equal the plaintext")
	}
	if err := VerifyPassword(hash, "s3cret-pass"); err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if err := VerifyPassword(hash, "wrong"); err == nil {
		t.Fatal("expected mismatch error for wrong password")
	}
}

func TestHashPasswordRejectsEmpty(t *testing.T) {
	if _, err := HashPassword(""); err == nil {
		t.Fatal("expected error for empty password")
	}
	if err := VerifyPassword("", "anything"); err == nil {
		t.Fatal("expected error for empty hash")
	}
}

func TestRandomPassword(t *testing.T) {
	a, err := RandomPassword()
	if err != nil {
		t.Fatalf("RandomPassword: %v", err)
	}
	b, err := RandomPassword()
	if err != nil {
		t.Fatalf("RandomPassword: %v", err)
	}
	if a == "" || a == b {
		t.Fatalf("random passwords must be non-empty and distinct, got %q and %q", a, b)
	}
}

func TestNewDeviceCookie(t *testing.T) {
	a, err := NewDeviceCookie()
	if err != nil {
		t.Fatalf("NewDeviceCookie: %v", err)
	}
	b, err := NewDeviceCookie()
	if err != nil {
		t.Fatalf("NewDeviceCookie: %v", err)
	}
	if a == "" || a == b {
		t.Fatalf("cookies must be non-empty and distinct, got %q and %q", a, b)
	}
}
