// ABOUTME: Access point control message definitions
// ABOUTME: JSON envelope plus the payload structs for every message type
package protocol

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Message types
const (
	TypeClientHello       = "client/hello"
	TypeServerHello       = "server/hello"
	TypeClientLogin       = "client/login"
	TypeServerLoginOK     = "server/login_ok"
	TypeServerLoginFailed = "server/login_failed"
	TypeServerMessage     = "server/message"
	TypeServerCommand     = "server/command"
	TypeClientTime        = "client/time"
	TypeServerTime        = "server/time"
	TypeClientMetadata    = "client/metadata"
	TypeServerMetadata    = "server/metadata"
	TypeServerMetaFailed  = "server/metadata_failed"
	TypeClientFetch       = "client/fetch"
	TypeClientFetchCancel = "client/fetch_cancel"
	TypeServerFetchDone   = "server/fetch_done"
	TypeServerFetchFailed = "server/fetch_failed"
	TypeClientDisplayName = "client/display_name"
	TypeClientGoodbye     = "client/goodbye"
)

// Login methods
const (
	LoginPassword = "password"
	LoginBlob     = "blob"
	LoginToken    = "token"
)

// Message is the outbound envelope for control frames
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Envelope is the inbound form of Message with the payload left raw
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// DecodeEnvelope parses a control frame payload.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("failed to parse envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("envelope without type")
	}
	return env, nil
}

// Into decodes the payload into v.
func (e Envelope) Into(v interface{}) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%s: %w", e.Type, err)
	}
	return nil
}

// ClientHello opens a session
type ClientHello struct {
	ClientID    string `json:"client_id"`
	DeviceID    string `json:"device_id"`
	APIVersion  int    `json:"api_version"`
	Brand       string `json:"brand"`
	Model       string `json:"model"`
	DeviceType  int    `json:"device_type"`
	DisplayName string `json:"display_name"`
	Version     string `json:"version"`
}

// ServerHello answers client/hello
type ServerHello struct {
	ServerID   string `json:"server_id"`
	Name       string `json:"name"`
	Version    int    `json:"version"`
	ServerTime int64  `json:"server_time"` // Unix milliseconds
}

// ClientLogin carries one of the three credential kinds
type ClientLogin struct {
	Method   string `json:"method"` // "password", "blob" or "token"
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Blob     string `json:"blob,omitempty"` // base64
	Token    string `json:"token,omitempty"`
}

// ServerLoginOK confirms authentication
type ServerLoginOK struct {
	Username    string `json:"username"` // canonical
	Blob        string `json:"blob"`     // base64, reusable for blob login
	AccountType string `json:"account_type"`
}

// ServerLoginFailed rejects authentication
type ServerLoginFailed struct {
	Code   string `json:"code"` // errcode wire name
	Reason string `json:"reason,omitempty"`
}

// ServerMessage is a free-form text push
type ServerMessage struct {
	Text string `json:"text"`
}

// ServerCommand is a remote control request for the playing device
type ServerCommand struct {
	Command    string `json:"command"` // "play", "pause", "next", "prev", "seek", "volume"
	PositionMs int64  `json:"position_ms,omitempty"`
	Volume     int    `json:"volume,omitempty"` // 0-65535
}

// ClientTime is sent for clock synchronization
type ClientTime struct {
	ClientTransmitted int64 `json:"client_transmitted"` // Client timestamp in microseconds
}

// ServerTime is the response to client/time
type ServerTime struct {
	ClientTransmitted int64 `json:"client_transmitted"` // Echoed client timestamp
	ServerReceived    int64 `json:"server_received"`    // Server receive timestamp
	ServerTransmitted int64 `json:"server_transmitted"` // Server send timestamp
}

// ClientMetadata asks for a track or context to be resolved
type ClientMetadata struct {
	ReqID uint32 `json:"req_id"`
	URI   string `json:"uri"`
}

// AudioFile is one encoding of a track
type AudioFile struct {
	FileID     string `json:"file_id"`
	Bitrate    int    `json:"bitrate"` // kbit/s
	Codec      string `json:"codec"`   // "pcm", "opus" or "mp3"
	Size       uint32 `json:"size"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

// TrackInfo describes a playable item
type TrackInfo struct {
	URI        string      `json:"uri"`
	Title      string      `json:"title"`
	Artist     string      `json:"artist"`
	ArtistURI  string      `json:"artist_uri,omitempty"`
	Album      string      `json:"album"`
	AlbumURI   string      `json:"album_uri,omitempty"`
	ImageURI   string      `json:"image_uri,omitempty"`
	DurationMs int64       `json:"duration_ms"`
	Available  bool        `json:"available"`
	Files      []AudioFile `json:"files,omitempty"`
}

// ServerMetadata resolves a uri to its context
type ServerMetadata struct {
	ReqID        uint32      `json:"req_id"`
	ContextURI   string      `json:"context_uri"`
	ContextTitle string      `json:"context_title,omitempty"`
	Tracks       []TrackInfo `json:"tracks"`
}

// ServerMetadataFailed reports an unresolvable uri
type ServerMetadataFailed struct {
	ReqID uint32 `json:"req_id"`
	Code  string `json:"code"`
}

// ClientFetch requests a byte range of a file
type ClientFetch struct {
	ReqID  uint32 `json:"req_id"`
	FileID string `json:"file_id"`
	Offset uint32 `json:"offset"`
	Length uint32 `json:"length"`
}

// ClientFetchCancel abandons an outstanding fetch
type ClientFetchCancel struct {
	ReqID uint32 `json:"req_id"`
}

// ServerFetchDone ends a fetch after its last chunk frame
type ServerFetchDone struct {
	ReqID uint32 `json:"req_id"`
}

// ServerFetchFailed ends a fetch unsuccessfully
type ServerFetchFailed struct {
	ReqID uint32 `json:"req_id"`
	Code  string `json:"code"`
}

// ClientDisplayName updates the advertised device name
type ClientDisplayName struct {
	DisplayName string `json:"display_name"`
}

// ClientGoodbye is sent before graceful disconnect
type ClientGoodbye struct {
	Reason string `json:"reason"` // "logout", "shutdown"
}
