// ABOUTME: Goroutine-safe bridge between the pairing HTTP handler and the pump
// ABOUTME: Holds a zeroconf snapshot and queues blob logins for PumpEvents
package embedded

import (
	"sync"

	"github.com/Thalhammer/libspotify-embedded/pkg/errcode"
	"github.com/Thalhammer/libspotify-embedded/pkg/session"
)

// maxQueuedLogins bounds pairing logins waiting for the pump.
const maxQueuedLogins = 4

type blobLogin struct {
	user string
	blob []byte
}

type pairing struct {
	mu     sync.Mutex
	vars   session.ZeroConfVars
	logins []blobLogin
}

func newPairing() *pairing { return &pairing{} }

func (p *pairing) refresh(vars session.ZeroConfVars) {
	p.mu.Lock()
	p.vars = vars
	p.mu.Unlock()
}

func (p *pairing) ZeroConfVars() session.ZeroConfVars {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.vars
}

// LoginBlob queues a login for the next PumpEvents.
func (p *pairing) LoginBlob(user string, blob []byte) error {
	if user == "" || len(blob) == 0 {
		return errcode.New(errcode.InvalidArgument, "embedded.pairing", "username and blob required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.logins) >= maxQueuedLogins {
		return errcode.New(errcode.Failed, "embedded.pairing", "too many pending logins")
	}
	p.logins = append(p.logins, blobLogin{user: user, blob: append([]byte(nil), blob...)})
	return nil
}

func (p *pairing) take() []blobLogin {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.logins
	p.logins = nil
	return out
}
