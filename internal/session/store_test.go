package session

import (
	"encoding/json"
	"testing"
)

func TestSessionKeysArePerUser(t *testing.T) {
	if tokenKey(1) == tokenKey(2) {
		t.Fatalf("token keys for different users must differ")
	}
	if identityKey(1) == identityKey(2) {
		t.Fatalf("identity keys for different users must differ")
	}
	if tokenKey(1) == identityKey(1) {
		t.Fatalf("token and identity keys must not collide")
	}
}

func TestIdentitySerialization(t *testing.T) {
	ident := Identity{Login: "user", Role: "admin"}

	data, err := json.Marshal(ident)
	if err != nil {
		t.Fatalf("marshal identity: %v", err)
	}

	var got Identity
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal identity: %v", err)
	}

	if got != ident {
		t.Fatalf("identity roundtrip = %+v, want %+v", got, ident)
	}
}
