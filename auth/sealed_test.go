package auth

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"
)

func testKeys() map[string][]byte {
	return map[string][]byte{
		"k1": bytes.Repeat([]byte{1}, KeySize),
		"k2": bytes.Repeat([]byte{2}, KeySize),
	}
}

func TestNewSealedToken_Config(t *testing.T) {
	tests := map[string]struct {
		keyID string
		keys  map[string][]byte
	}{
		"nil keys":       {"k1", nil},
		"unknown key id": {"k9", testKeys()},
		"short key":      {"k1", map[string][]byte{"k1": []byte("short")}},
		"dotted key id":  {"a.b", map[string][]byte{"a.b": bytes.Repeat([]byte{1}, KeySize)}},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := NewSealedToken(tt.keyID, tt.keys); !errors.Is(err, ErrKeyConfig) {
				t.Errorf("err = %v, want ErrKeyConfig", err)
			}
		})
	}
}

func TestSealedToken_RoundTrip(t *testing.T) {
	now := time.Unix(1_800_000_000, 0)
	st, err := NewSealedToken("k1", testKeys(), WithSealedClock(func() time.Time { return now }))
	if err != nil {
		t.Fatal(err)
	}
	token, err := st.Issue("dave", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(token, "k1.") {
		t.Errorf("token %q does not name its key", token)
	}
	p, err := st.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if p.Subject != "dave" || !p.Expiry.Equal(now.Add(time.Hour)) {
		t.Errorf("principal = %+v", p)
	}

	again, _ := st.Issue("dave", time.Hour)
	if again == token {
		t.Error("two tokens share a nonce")
	}
}

func TestSealedToken_KeyRotation(t *testing.T) {
	old, _ := NewSealedToken("k1", testKeys())
	token, err := old.Issue("erin", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	rotated, _ := NewSealedToken("k2", testKeys())
	if _, err := rotated.Verify(context.Background(), token); err != nil {
		t.Errorf("token sealed with a retired key should still open: %v", err)
	}
	dropped, _ := NewSealedToken("k2", map[string][]byte{"k2": testKeys()["k2"]})
	if _, err := dropped.Verify(context.Background(), token); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("err = %v, want ErrTokenInvalid", err)
	}
}

func TestSealedToken_Rejects(t *testing.T) {
	now := time.Unix(1_800_000_000, 0)
	clock := func() time.Time { return now }
	st, _ := NewSealedToken("k1", testKeys(), WithSealedClock(clock))
	token, _ := st.Issue("dave", time.Minute)

	_, payload, _ := strings.Cut(token, ".")
	raw, _ := base64.RawURLEncoding.DecodeString(payload)
	raw[len(raw)-1] ^= 0xff
	tampered := "k1." + base64.RawURLEncoding.EncodeToString(raw)

	expired, _ := NewSealedToken("k1", testKeys(), WithSealedClock(func() time.Time { return now.Add(time.Minute) }))
	otherAudience, _ := NewSealedToken("k1", testKeys(), WithSealedClock(clock), WithAudienceBinding("/admin"))

	tests := []struct {
		name  string
		st    *SealedToken
		token string
		want  error
	}{
		{"empty", st, "", ErrTokenFormat},
		{"no separator", st, "k1", ErrTokenFormat},
		{"bad base64", st, "k1.***", ErrTokenFormat},
		{"too short", st, "k1.AAAA", ErrTokenFormat},
		{"too long", st, "k1." + strings.Repeat("A", maxTokenLen), ErrTokenFormat},
		{"unknown key", st, "k9." + payload, ErrTokenInvalid},
		{"tampered", st, tampered, ErrTokenInvalid},
		{"expired", expired, token, ErrTokenExpired},
		{"other audience", otherAudience, token, ErrTokenInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.st.Verify(context.Background(), tt.token)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}
