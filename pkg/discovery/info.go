// ABOUTME: HTTP pairing endpoint advertised by the Announcer
// ABOUTME: getInfo returns the zeroconf vars, addUser hands a blob login to the device
package discovery

import (
	"encoding/base64"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/Thalhammer/libspotify-embedded/pkg/errcode"
	"github.com/Thalhammer/libspotify-embedded/pkg/session"
)

// Pairing is the device side of a pairing request. Implementations must be
// safe to call from HTTP handler goroutines.
type Pairing interface {
	ZeroConfVars() session.ZeroConfVars
	LoginBlob(username string, blob []byte) error
}

// Pairing status codes reported to the peer.
const (
	StatusOK           = 101
	StatusBadRequest   = 102
	StatusLoginFailed  = 202
	StatusUnknownError = 203
)

type infoResponse struct {
	Status       int    `json:"status"`
	StatusString string `json:"statusString"`
	SpotifyError int    `json:"spotifyError"`
	session.ZeroConfVars
}

type statusResponse struct {
	Status       int    `json:"status"`
	StatusString string `json:"statusString"`
	SpotifyError int    `json:"spotifyError"`
}

// InfoHandler serves getInfo and addUser.
type InfoHandler struct {
	pairing Pairing
	log     zerolog.Logger
}

// NewInfoHandler creates the pairing handler.
func NewInfoHandler(p Pairing, logger zerolog.Logger) *InfoHandler {
	return &InfoHandler{pairing: p, log: logger.With().Str("component", "pairing").Logger()}
}

func (h *InfoHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.reply(w, http.StatusBadRequest, statusResponse{Status: StatusBadRequest, StatusString: "ERROR-BAD-REQUEST"})
		return
	}

	switch action := r.Form.Get("action"); action {
	case "getInfo":
		h.reply(w, http.StatusOK, infoResponse{
			Status:       StatusOK,
			StatusString: "OK",
			ZeroConfVars: h.pairing.ZeroConfVars(),
		})
	case "addUser":
		if r.Method != http.MethodPost {
			h.reply(w, http.StatusMethodNotAllowed, statusResponse{Status: StatusBadRequest, StatusString: "ERROR-BAD-REQUEST"})
			return
		}
		h.addUser(w, r)
	default:
		h.log.Debug().Str("action", action).Msg("unknown pairing action")
		h.reply(w, http.StatusBadRequest, statusResponse{Status: StatusBadRequest, StatusString: "ERROR-BAD-REQUEST"})
	}
}

func (h *InfoHandler) addUser(w http.ResponseWriter, r *http.Request) {
	user := r.PostForm.Get("userName")
	blob, err := base64.StdEncoding.DecodeString(r.PostForm.Get("blob"))
	if user == "" || err != nil || len(blob) == 0 {
		h.reply(w, http.StatusBadRequest, statusResponse{Status: StatusBadRequest, StatusString: "ERROR-BAD-REQUEST"})
		return
	}
	if err := h.pairing.LoginBlob(user, blob); err != nil {
		h.log.Warn().Err(err).Str("user", user).Msg("pairing login rejected")
		h.reply(w, http.StatusOK, statusResponse{Status: StatusLoginFailed, StatusString: "ERROR-LOGIN-FAILED", SpotifyError: int(errcode.CodeOf(err))})
		return
	}
	h.log.Info().Str("user", user).Msg("paired")
	h.reply(w, http.StatusOK, statusResponse{Status: StatusOK, StatusString: "OK"})
}

func (h *InfoHandler) reply(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Debug().Err(err).Msg("pairing reply failed")
	}
}
