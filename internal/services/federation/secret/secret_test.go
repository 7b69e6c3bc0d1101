package secret

import (
	"encoding/hex"
	"testing"
)

func TestNewKeyFormat(t *testing.T) {
	t.Parallel()

	key, err := NewKey()
	if err != nil {
		t.Fatalf("new key: %v", err)
	}
	raw, err := hex.DecodeString(key)
	if err != nil {
		t.Fatalf("decode key: %v", err)
	}
	if len(raw) != KeyBytes {
		t.Fatalf("expected %d key bytes, got %d", KeyBytes, len(raw))
	}
}

func TestNewKeyUnique(t *testing.T) {
	t.Parallel()

	first, err := NewKey()
	if err != nil {
		t.Fatalf("new key: %v", err)
	}
	second, err := NewKey()
	if err != nil {
		t.Fatalf("new key: %v", err)
	}
	if first == second {
		t.Fatal("expected distinct keys")
	}
}

func TestMatch(t *testing.T) {
	t.Parallel()

	if !Match("abc123", "abc123") {
		t.Fatal("expected equal tokens to match")
	}
	if Match("abc123", "abc124") {
		t.Fatal("expected different tokens to mismatch")
	}
	if Match("abc123", "abc1234") {
		t.Fatal("expected different-length tokens to mismatch")
	}
	if Match("", "") {
		t.Fatal("expected empty tokens to never match")
	}
	if Match("abc", "") {
		t.Fatal("expected empty candidate to never match")
	}
}
