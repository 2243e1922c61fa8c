// ABOUTME: Zeroconf pairing variables with bounded text fields
// ABOUTME: Over-long values are truncated silently to the field size
package session

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"unicode/utf8"

	"github.com/Thalhammer/libspotify-embedded/internal/version"
)

// Field bounds in bytes.
const (
	MaxZeroConfToken       = 149
	MaxZeroConfDeviceID    = 64
	MaxZeroConfUsername    = 64
	MaxZeroConfDisplayName = 64
	MaxZeroConfAccountType = 15
	MaxZeroConfDeviceType  = 15
	MaxZeroConfVersion     = 30
)

// ZeroConfVars are the values a local pairing peer asks for.
type ZeroConfVars struct {
	PublicToken    string `json:"publicKey"`
	DeviceID       string `json:"deviceID"`
	ActiveUser     string `json:"activeUser"`
	RemoteName     string `json:"remoteName"`
	AccountType    string `json:"accountReq"`
	DeviceType     string `json:"deviceType"`
	LibraryVersion string `json:"libraryVersion"`
}

// ZeroConfVars returns the pairing variables for the current session.
func (m *Manager) ZeroConfVars() ZeroConfVars {
	token := sha256.Sum256(append(append([]byte(nil), m.cfg.AppKey...), m.deviceID...))
	id := sha1.Sum([]byte(m.deviceID))

	account := m.accountType
	if account == "" {
		account = "PREMIUM"
	}
	return ZeroConfVars{
		PublicToken:    truncate(base64.StdEncoding.EncodeToString(token[:]), MaxZeroConfToken),
		DeviceID:       truncate(hex.EncodeToString(id[:]), MaxZeroConfDeviceID),
		ActiveUser:     truncate(m.username, MaxZeroConfUsername),
		RemoteName:     truncate(m.displayName, MaxZeroConfDisplayName),
		AccountType:    truncate(account, MaxZeroConfAccountType),
		DeviceType:     truncate(m.cfg.DeviceType.String(), MaxZeroConfDeviceType),
		LibraryVersion: truncate(version.Library(), MaxZeroConfVersion),
	}
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
