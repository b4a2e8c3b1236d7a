package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"prism-focus/api"
)

func TestUserIDs(t *testing.T) {
	if got := userIDs(1, "focus-user", 1, nil); !reflect.DeepEqual(got, []string{"focus-user"}) {
		t.Fatalf("unexpected %v", got)
	}
	if got := userIDs(3, "perf", 5, nil); !reflect.DeepEqual(got, []string{"perf-5", "perf-6", "perf-7"}) {
		t.Fatalf("unexpected %v", got)
	}
	if got := userIDs(1, "focus-user", 1, []string{"alice"}); !reflect.DeepEqual(got, []string{"alice"}) {
		t.Fatalf("unexpected %v", got)
	}
}

func TestMintedTokensPassLocalAuth(t *testing.T) {
	m := minter{secret: []byte("shh"), audience: "focus-api", ttl: time.Hour, now: time.Now}
	tokens, err := m.generate([]string{"u1", "u2"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	auth := api.NewLocalAuth([]byte("shh"), "focus-api", "")
	for i, want := range []string{"u1", "u2"} {
		got, err := auth.UserIDFromBearer(tokens[i])
		if err != nil || got != want {
			t.Fatalf("token %d: got %q (%v)", i, got, err)
		}
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	past := func() time.Time { return time.Now().Add(-3 * time.Hour) }
	tok, err := minter{secret: []byte("shh"), ttl: time.Hour, now: past}.token("u1")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if _, err := api.NewLocalAuth([]byte("shh"), "", "").UserIDFromBearer(tok); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestWriteTokens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tokens.json")
	if err := writeTokens(path, []string{"a", "b"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got []string
	if err := json.Unmarshal(raw, &got); err != nil || !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("unexpected %s (%v)", raw, err)
	}
}
