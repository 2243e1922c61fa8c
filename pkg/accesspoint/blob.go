// ABOUTME: Sealed login blobs for password-less re-authentication
// ABOUTME: chacha20poly1305 with a key derived from the server secret by HKDF
package accesspoint

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const blobContext = "libspotify-embedded login blob v1"

var (
	// ErrBlobInvalid reports a blob that fails authentication.
	ErrBlobInvalid = errors.New("invalid login blob")

	// ErrBlobExpired reports a blob older than the sealer's MaxAge.
	ErrBlobExpired = errors.New("login blob expired")
)

// Sealer issues and verifies login blobs.
type Sealer struct {
	// MaxAge bounds blob lifetime. Zero accepts any age.
	MaxAge time.Duration

	aead cipher.AEAD
}

// NewSealer derives the blob key from secret.
func NewSealer(secret []byte) (*Sealer, error) {
	if len(secret) < 16 {
		return nil, errors.New("blob secret must be at least 16 bytes")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(blobContext)), key); err != nil {
		return nil, fmt.Errorf("derive blob key: %w", err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("create blob cipher: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal returns a blob binding username to the issue time.
func (s *Sealer) Seal(username string, issued time.Time) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	plain := make([]byte, 8+len(username))
	binary.BigEndian.PutUint64(plain, uint64(issued.Unix()))
	copy(plain[8:], username)
	return s.aead.Seal(nonce, nonce, plain, nil), nil
}

// Open verifies blob and returns the username it was issued for.
func (s *Sealer) Open(blob []byte, now time.Time) (string, error) {
	ns := s.aead.NonceSize()
	if len(blob) < ns+8+s.aead.Overhead() {
		return "", ErrBlobInvalid
	}
	plain, err := s.aead.Open(nil, blob[:ns], blob[ns:], nil)
	if err != nil {
		return "", ErrBlobInvalid
	}
	issued := time.Unix(int64(binary.BigEndian.Uint64(plain)), 0)
	if s.MaxAge > 0 && now.Sub(issued) > s.MaxAge {
		return "", ErrBlobExpired
	}
	return string(plain[8:]), nil
}
