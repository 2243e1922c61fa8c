// ABOUTME: Engine wires bus, session, cache and playback into one device
// ABOUTME: Init builds it, PumpEvents drives it, Free tears it down
package embedded

import (
	"errors"
	"fmt"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/Thalhammer/libspotify-embedded/pkg/audio"
	"github.com/Thalhammer/libspotify-embedded/pkg/cache"
	"github.com/Thalhammer/libspotify-embedded/pkg/discovery"
	"github.com/Thalhammer/libspotify-embedded/pkg/errcode"
	"github.com/Thalhammer/libspotify-embedded/pkg/notify"
	"github.com/Thalhammer/libspotify-embedded/pkg/playback"
	"github.com/Thalhammer/libspotify-embedded/pkg/session"
)

// DefaultImageBaseURL is prefixed to image ids by ImageURL.
const DefaultImageBaseURL = "https://i.scdn.co/image/"

// Config configures an Engine.
type Config struct {
	// Session is passed to session.New; its Bus, Clock and Logger are
	// replaced by the engine's.
	Session session.Config `validate:"-"`

	Storage     cache.Storage `validate:"required"`
	CacheBudget int64         `validate:"gte=0"`

	Sink audio.Sink `validate:"required"`
	// PullFrames, when positive, puts the sink in pull mode: each
	// PumpEvents offers it up to this many frames.
	PullFrames int `validate:"gte=0"`

	Bitrate     playback.Bitrate `validate:"gte=0,lte=2"`
	Volume      uint16
	VolumeSteps int `validate:"gte=0,lte=65535"`

	// ZeroConf, when set, announces the device over mDNS.
	ZeroConf *discovery.Config

	ImageBaseURL string `validate:"omitempty,url"`

	Clock  clock.Clock
	Logger zerolog.Logger
}

var validate = validator.New()

func (c *Config) validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s(%s)", fe.Field(), fe.Tag()))
			}
			return errcode.New(errcode.InvalidArgument, "embedded.init", "invalid fields: %s", strings.Join(fields, ", "))
		}
		return errcode.Wrap(errcode.InvalidArgument, "embedded.init", err)
	}
	return nil
}

// Engine is one initialized device. Only one can exist per process
// because it owns the session. Apart from Pairing it must be used from
// the goroutine that calls PumpEvents.
type Engine struct {
	cfg  Config
	log  zerolog.Logger
	bus  *notify.Bus
	sess *session.Manager
	cach *cache.Cache
	ctrl *playback.Controller

	announcer *discovery.Announcer
	pairing   *pairing
	subs      []notify.Handle
	freed     bool
}

// Init builds the engine. It fails with AlreadyInitialized while another
// engine is live.
func Init(cfg Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.ImageBaseURL == "" {
		cfg.ImageBaseURL = DefaultImageBaseURL
	}

	e := &Engine{
		cfg: cfg,
		log: cfg.Logger.With().Str("component", "embedded").Logger(),
		bus: notify.NewBus(cfg.Logger),
	}

	scfg := cfg.Session
	scfg.Bus = e.bus
	scfg.Clock = cfg.Clock
	scfg.Logger = cfg.Logger
	sess, err := session.New(scfg)
	if err != nil {
		return nil, err
	}
	e.sess = sess

	e.cach, err = cache.New(cache.Config{
		Storage: cfg.Storage,
		Budget:  cfg.CacheBudget,
		Bus:     e.bus,
		Clock:   cfg.Clock,
		Logger:  cfg.Logger,
	})
	if err != nil {
		sess.Release()
		return nil, err
	}
	if err := e.cach.Load(); err != nil {
		e.log.Warn().Err(err).Msg("cache reload failed, starting empty")
	}

	e.ctrl, err = playback.New(playback.Config{
		Session:     sess,
		Cache:       e.cach,
		Bus:         e.bus,
		Sink:        cfg.Sink,
		Pull:        cfg.PullFrames > 0,
		Bitrate:     cfg.Bitrate,
		Volume:      cfg.Volume,
		VolumeSteps: cfg.VolumeSteps,
		Logger:      cfg.Logger,
	})
	if err != nil {
		sess.Release()
		return nil, err
	}
	sess.SetCommandHandler(e.ctrl.HandleCommand)

	e.pairing = newPairing()
	e.pairing.refresh(sess.ZeroConfVars())
	refresh := notify.HandlerFunc(func(notify.Event) error {
		e.pairing.refresh(e.sess.ZeroConfVars())
		return nil
	})
	e.subs = append(e.subs,
		e.bus.Subscribe(notify.KindLoggedIn, refresh),
		e.bus.Subscribe(notify.KindLoggedOut, refresh),
	)

	if cfg.ZeroConf != nil {
		zc := *cfg.ZeroConf
		if zc.Name == "" {
			zc.Name = sess.DisplayName()
		}
		zc.Logger = cfg.Logger
		if e.announcer, err = discovery.NewAnnouncer(zc); err != nil {
			e.Free()
			return nil, errcode.Wrap(errcode.InitFailed, "embedded.init", err)
		}
	}

	e.log.Info().Str("device_id", sess.DeviceID()).Msg("engine initialized")
	return e, nil
}

// Free tears the engine down. Pending requests are dropped without
// events and a new engine may be initialized afterwards.
func (e *Engine) Free() {
	if e.freed {
		return
	}
	e.freed = true
	if e.announcer != nil {
		if err := e.announcer.Close(); err != nil {
			e.log.Debug().Err(err).Msg("announcer close failed")
		}
	}
	e.ctrl.Close()
	for _, h := range e.subs {
		e.bus.Unsubscribe(h)
	}
	e.sess.Release()
	e.bus.Reset()
	e.log.Info().Msg("engine freed")
}

// PumpEvents runs one step of everything: the session connection, the
// playback pipeline, a sink pull in pull mode, queued pairing logins and
// one bus dispatch.
func (e *Engine) PumpEvents() {
	if e.freed {
		return
	}
	e.sess.Pump()
	e.ctrl.Pump()
	if e.cfg.PullFrames > 0 {
		e.ctrl.OnAudioSinkPull(e.cfg.PullFrames)
	}
	for _, l := range e.pairing.take() {
		if err := e.sess.LoginBlob(l.user, l.blob); err != nil {
			e.bus.Publish(notify.ErrorEvent{Err: err})
		}
	}
	e.bus.Dispatch()
}

// Bus returns the event bus.
func (e *Engine) Bus() *notify.Bus { return e.bus }

// Session returns the session manager.
func (e *Engine) Session() *session.Manager { return e.sess }

// Cache returns the chunk cache.
func (e *Engine) Cache() *cache.Cache { return e.cach }

// Playback returns the playback controller.
func (e *Engine) Playback() *playback.Controller { return e.ctrl }

// Pairing returns the handler side of zeroconf pairing. It may be used
// from any goroutine; logins are applied on the next PumpEvents.
func (e *Engine) Pairing() discovery.Pairing { return e.pairing }
