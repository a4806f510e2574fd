package auth

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrTokenFormat  = errors.New("auth: invalid sealed token format")
	ErrTokenInvalid = errors.New("auth: invalid sealed token")
	ErrTokenExpired = errors.New("auth: sealed token expired")
)

// SealedTokenHeader carries a sealed token on requests.
const SealedTokenHeader = "X-Rpc-Token"

// KeySize is the key length required by SealedToken.
const KeySize = chacha20poly1305.KeySize

// maxTokenLen bounds the attacker-controlled data decoded from a header.
const maxTokenLen = 4096

// sealedClaims is the CBOR payload of a sealed token.
type sealedClaims struct {
	Subject string `cbor:"1,keyasint"`
	Issued  int64  `cbor:"2,keyasint"`
	Expiry  int64  `cbor:"3,keyasint"`
}

// SealedToken issues and verifies opaque tokens sealed with
// XChaCha20-Poly1305.
//
// Format: [keyID] "." base64url(nonce || AEAD.Seal(claims, aad))
//
// keys holds every accepted key; keyID selects the key used by Issue, so
// keys can be rotated by adding a new one and switching keyID.
type SealedToken struct {
	keyID string
	keys  map[string][]byte
	aad   []byte
	now   func() time.Time
}

// SealedTokenOption configures a SealedToken.
type SealedTokenOption func(*SealedToken)

// WithAudienceBinding binds tokens to a context string, such as the RPC
// path. A token issued for one context does not open in another.
func WithAudienceBinding(aud string) SealedTokenOption {
	return func(st *SealedToken) { st.aad = []byte(aud) }
}

// WithSealedClock overrides the time source.
func WithSealedClock(now func() time.Time) SealedTokenOption {
	return func(st *SealedToken) { st.now = now }
}

func NewSealedToken(keyID string, keys map[string][]byte, opts ...SealedTokenOption) (*SealedToken, error) {
	if keys == nil {
		return nil, fmt.Errorf("%w: keys must not be nil", ErrKeyConfig)
	}
	if _, ok := keys[keyID]; !ok {
		return nil, fmt.Errorf("%w: keyID %q not found in keys", ErrKeyConfig, keyID)
	}
	copied := make(map[string][]byte, len(keys))
	for id, k := range keys {
		if strings.Contains(id, ".") || id == "" {
			return nil, fmt.Errorf("%w: invalid key id %q", ErrKeyConfig, id)
		}
		if _, err := chacha20poly1305.NewX(k); err != nil {
			return nil, fmt.Errorf("%w: key %s: %v", ErrKeyConfig, id, err)
		}
		copied[id] = append([]byte(nil), k...)
	}
	st := &SealedToken{
		keyID: keyID,
		keys:  copied,
		aad:   []byte("rpcserve"),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(st)
	}
	return st, nil
}

// Issue seals a token for subject that expires after ttl.
func (st *SealedToken) Issue(subject string, ttl time.Duration) (string, error) {
	now := st.now()
	plain, err := cbor.Marshal(sealedClaims{
		Subject: subject,
		Issued:  now.Unix(),
		Expiry:  now.Add(ttl).Unix(),
	})
	if err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.NewX(st.keys[st.keyID])
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, plain, st.aad)
	return st.keyID + "." + base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (st *SealedToken) Verify(_ context.Context, value string) (*Principal, error) {
	plain, err := st.open(value)
	if err != nil {
		return nil, err
	}
	var c sealedClaims
	if err := cbor.Unmarshal(plain, &c); err != nil {
		return nil, ErrTokenInvalid
	}
	expiry := time.Unix(c.Expiry, 0)
	if !st.now().Before(expiry) {
		return nil, ErrTokenExpired
	}
	if c.Subject == "" {
		return nil, ErrTokenInvalid
	}
	return &Principal{Subject: c.Subject, Expiry: expiry}, nil
}

func (st *SealedToken) open(value string) ([]byte, error) {
	if len(value) == 0 || len(value) > maxTokenLen {
		return nil, ErrTokenFormat
	}
	keyID, encB64, ok := strings.Cut(value, ".")
	if !ok || keyID == "" || encB64 == "" {
		return nil, ErrTokenFormat
	}
	key, ok := st.keys[keyID]
	if !ok {
		return nil, ErrTokenInvalid
	}
	sealed, err := base64.RawURLEncoding.DecodeString(encB64)
	if err != nil {
		return nil, ErrTokenFormat
	}
	var aead cipher.AEAD
	if aead, err = chacha20poly1305.NewX(key); err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrTokenFormat
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, st.aad)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	return plain, nil
}
