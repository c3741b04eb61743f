package storage

import (
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestPasswordHasher(t *testing.T) {
	h := NewPasswordHasher(bcrypt.MinCost)

	hash, err := h.Hash("secreto")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if !h.Verify("secreto", hash) {
		t.Error("Verify rejected the right password")
	}
	if h.Verify("otro", hash) {
		t.Error("Verify accepted a wrong password")
	}
	if h.Verify("secreto", "not-a-hash") {
		t.Error("Verify accepted a malformed hash")
	}
}

func TestPasswordHasherCostFallback(t *testing.T) {
	if got := NewPasswordHasher(0).cost; got != bcrypt.DefaultCost {
		t.Errorf("cost = %d, want %d", got, bcrypt.DefaultCost)
	}
	if got := NewPasswordHasher(bcrypt.MaxCost + 1).cost; got != bcrypt.DefaultCost {
		t.Errorf("cost = %d, want %d", got, bcrypt.DefaultCost)
	}
}
