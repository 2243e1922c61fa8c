// ABOUTME: Session configuration and validation
// ABOUTME: Device identity bounds, reconnect schedule and collaborators
package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/Thalhammer/libspotify-embedded/internal/version"
	"github.com/Thalhammer/libspotify-embedded/pkg/errcode"
	"github.com/Thalhammer/libspotify-embedded/pkg/notify"
	"github.com/Thalhammer/libspotify-embedded/pkg/transport"
)

// MinWorkingMemory is the smallest accepted working memory budget.
const MinWorkingMemory = 512 * 1024

// DeviceType classifies the hardware the library runs on.
type DeviceType int

const (
	DeviceUnknown DeviceType = iota
	DeviceComputer
	DeviceTablet
	DeviceSmartphone
	DeviceSpeaker
	DeviceTV
	DeviceAVR
	DeviceSTB
	DeviceAudioDongle
	DeviceGameConsole
	DeviceCastVideo
	DeviceCastAudio
	DeviceAutomobile
)

var deviceTypeNames = [...]string{
	"UNKNOWN", "COMPUTER", "TABLET", "SMARTPHONE", "SPEAKER", "TV", "AVR",
	"STB", "AUDIODONGLE", "GAMECONSOLE", "CASTVIDEO", "CASTAUDIO", "AUTOMOBILE",
}

func (d DeviceType) String() string {
	if d >= 0 && int(d) < len(deviceTypeNames) {
		return deviceTypeNames[d]
	}
	return "UNKNOWN"
}

// ReconnectConfig shapes the automatic reconnect schedule.
type ReconnectConfig struct {
	InitialInterval time.Duration `validate:"gte=0"`
	MaxInterval     time.Duration `validate:"gte=0"`
	MaxAttempts     int           `validate:"gte=0"`
}

// Config configures a Manager.
type Config struct {
	APIVersion    int    `validate:"required"`
	WorkingMemory int    `validate:"gte=524288"`
	AppKey        []byte `validate:"required,min=1"`

	// DeviceID identifies this device to the access point. Empty generates a
	// random one.
	DeviceID    string     `validate:"omitempty,max=64"`
	Brand       string     `validate:"required,max=32"`
	Model       string     `validate:"required,max=32"`
	DisplayName string     `validate:"max=64"`
	DeviceType  DeviceType `validate:"gte=0,lte=12"`

	// OnError receives every asynchronous error published on the bus.
	OnError func(err *errcode.Error) `validate:"required"`

	APAddress string             `validate:"required,hostname_port"`
	Resolver  transport.Resolver `validate:"required"`
	Dialer    transport.Dialer   `validate:"required"`

	Reconnect    ReconnectConfig
	PingInterval time.Duration `validate:"gte=0"`
	ReadTimeout  time.Duration `validate:"gte=0"`

	// Bus receives session events. Nil creates a private bus.
	Bus    *notify.Bus
	Clock  clock.Clock
	Logger zerolog.Logger
}

var validate = validator.New()

func (c *Config) setDefaults() {
	if c.Reconnect.InitialInterval == 0 {
		c.Reconnect.InitialInterval = time.Second
	}
	if c.Reconnect.MaxInterval == 0 {
		c.Reconnect.MaxInterval = 64 * time.Second
	}
	if c.Reconnect.MaxAttempts == 0 {
		c.Reconnect.MaxAttempts = 8
	}
	if c.PingInterval == 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 90 * time.Second
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Bus == nil {
		c.Bus = notify.NewBus(c.Logger)
	}
}

// Validate checks the configuration. A version tag other than the supported
// one fails with APIVersionMismatch; anything else out of range fails with
// InvalidArgument.
func (c *Config) Validate() error {
	if c.APIVersion != version.APIVersion {
		return errcode.New(errcode.APIVersionMismatch, "session.init",
			"api version %d, supported %d", c.APIVersion, version.APIVersion)
	}
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s(%s)", fe.Field(), fe.Tag()))
			}
			return errcode.New(errcode.InvalidArgument, "session.init", "invalid fields: %s", strings.Join(fields, ", "))
		}
		return errcode.Wrap(errcode.InvalidArgument, "session.init", err)
	}
	if c.Reconnect.MaxInterval != 0 && c.Reconnect.InitialInterval > c.Reconnect.MaxInterval {
		return errcode.New(errcode.InvalidArgument, "session.init", "reconnect initial interval above max")
	}
	return nil
}
