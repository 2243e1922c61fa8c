// ABOUTME: YAML configuration files for the demo player and the access point
// ABOUTME: Files are parsed with yaml.v3, defaulted, then checked with validator
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/Thalhammer/libspotify-embedded/internal/logging"
	"github.com/Thalhammer/libspotify-embedded/pkg/playback"
	"github.com/Thalhammer/libspotify-embedded/pkg/session"
)

// Player configures the demo player.
type Player struct {
	// AccessPoint is host:port. Empty browses for one over mDNS.
	AccessPoint     string `yaml:"access_point" validate:"omitempty,hostname_port"`
	Path            string `yaml:"path" validate:"startswith=/"`
	CredentialsFile string `yaml:"credentials_file"`
	Username        string `yaml:"username"`
	AppKey          string `yaml:"app_key" validate:"required"`
	MetricsAddr     string `yaml:"metrics_addr" validate:"omitempty,hostname_port"`

	Device   DeviceConfig   `yaml:"device"`
	Cache    CacheConfig    `yaml:"cache"`
	Playback PlaybackConfig `yaml:"playback"`
	ZeroConf ZeroConfConfig `yaml:"zeroconf"`
	Logging  logging.Config `yaml:"logging"`

	Connectivity string `yaml:"connectivity" validate:"oneof=offline wired wireless mobile"`
}

type DeviceConfig struct {
	ID          string `yaml:"id" validate:"max=64"`
	DisplayName string `yaml:"display_name" validate:"max=64"`
	Brand       string `yaml:"brand" validate:"required,max=32"`
	Model       string `yaml:"model" validate:"required,max=32"`
	Type        string `yaml:"type"`
}

type CacheConfig struct {
	Backend string `yaml:"backend" validate:"oneof=memory file badger"`
	Dir     string `yaml:"dir" validate:"required_unless=Backend memory"`
	Budget  int64  `yaml:"budget_bytes" validate:"gte=0"`
}

type PlaybackConfig struct {
	URI     string `yaml:"uri"`
	Bitrate string `yaml:"bitrate" validate:"oneof=low normal high"`
	Volume  int    `yaml:"volume" validate:"gte=0,lte=65535"`
	Shuffle bool   `yaml:"shuffle"`
}

type ZeroConfConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port" validate:"required_if=Enabled true,omitempty,gte=1,lte=65535"`
}

// AccessPoint configures the reference access point.
type AccessPoint struct {
	Port    int    `yaml:"port" validate:"gte=1,lte=65535"`
	Path    string `yaml:"path" validate:"startswith=/"`
	Name    string `yaml:"name" validate:"required,max=64"`
	Metrics bool   `yaml:"metrics"`

	// Advertise announces the access point over mDNS.
	Advertise bool `yaml:"advertise"`

	Accounts []Account        `yaml:"accounts" validate:"dive"`
	Tokens   map[string]string `yaml:"tokens"`

	// BlobSecret keys the sealed login blobs.
	BlobSecret string `yaml:"blob_secret" validate:"required,min=32"`

	LoginRate  float64 `yaml:"login_rate" validate:"gte=0"`
	LoginBurst int     `yaml:"login_burst" validate:"gte=0"`
	ChunkSize  int     `yaml:"chunk_size" validate:"gte=0,lte=65536"`

	// CatalogDir holds .mp3 and .pcm files served as tracks.
	CatalogDir string `yaml:"catalog_dir"`
	// Tones adds the generated test tones and the demo playlist.
	Tones bool `yaml:"tones"`

	Logging logging.Config `yaml:"logging"`
}

// Account is one access point user. PasswordHash is a bcrypt hash.
type Account struct {
	Username         string `yaml:"username" validate:"required"`
	PasswordHash     string `yaml:"password_hash" validate:"required,startswith=$2"`
	Type             string `yaml:"type" validate:"oneof=premium free"`
	Banned           bool   `yaml:"banned"`
	TravelRestricted bool   `yaml:"travel_restricted"`
}

var validate = validator.New()

// LoadPlayer reads, defaults and validates a player config file.
func LoadPlayer(path string) (*Player, error) {
	var cfg Player
	if err := load(path, &cfg); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadAccessPoint reads, defaults and validates an access point config file.
func LoadAccessPoint(path string) (*AccessPoint, error) {
	var cfg AccessPoint
	if err := load(path, &cfg); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func load(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	return nil
}

// Validate checks a defaulted config and names every bad field.
func Validate(cfg any) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(fields, ", "))
}

// SetDefaults fills unset fields.
func (p *Player) SetDefaults() {
	if p.Path == "" {
		p.Path = "/ap"
	}
	if p.AppKey == "" {
		p.AppKey = "embedded-demo"
	}
	if p.CredentialsFile == "" {
		p.CredentialsFile = "credentials.yaml"
	}
	if p.Device.Brand == "" {
		p.Device.Brand = "Thalhammer"
	}
	if p.Device.Model == "" {
		p.Device.Model = "Demo Player"
	}
	if p.Device.Type == "" {
		p.Device.Type = "SPEAKER"
	}
	if p.Cache.Backend == "" {
		p.Cache.Backend = "file"
	}
	if p.Cache.Dir == "" && p.Cache.Backend != "memory" {
		p.Cache.Dir = "cache"
	}
	if p.Playback.Bitrate == "" {
		p.Playback.Bitrate = "normal"
	}
	if p.Connectivity == "" {
		p.Connectivity = "wired"
	}
	if p.Logging.Level == "" {
		p.Logging.Level = "info"
	}
}

// SetDefaults fills unset fields.
func (a *AccessPoint) SetDefaults() {
	if a.Port == 0 {
		a.Port = 4070
	}
	if a.Path == "" {
		a.Path = "/ap"
	}
	if a.Name == "" {
		a.Name = "Reference AP"
	}
	if a.LoginRate == 0 {
		a.LoginRate = 1
	}
	if a.LoginBurst == 0 {
		a.LoginBurst = 5
	}
	for i := range a.Accounts {
		if a.Accounts[i].Type == "" {
			a.Accounts[i].Type = "premium"
		}
	}
	if a.Logging.Level == "" {
		a.Logging.Level = "info"
	}
}

// DeviceType parses the configured device type name.
func (p *Player) DeviceType() (session.DeviceType, error) {
	want := strings.ToUpper(p.Device.Type)
	for d := session.DeviceUnknown; d <= session.DeviceAutomobile; d++ {
		if d.String() == want {
			return d, nil
		}
	}
	return session.DeviceUnknown, fmt.Errorf("unknown device type %q", p.Device.Type)
}

// Bitrate parses the configured bitrate tier.
func (p *Player) Bitrate() playback.Bitrate {
	for b := playback.BitrateLow; b <= playback.BitrateHigh; b++ {
		if b.String() == p.Playback.Bitrate {
			return b
		}
	}
	return playback.BitrateNormal
}

// ConnectivityHint parses the configured connectivity.
func (p *Player) ConnectivityHint() session.Connectivity {
	for c := session.ConnectivityOffline; c <= session.ConnectivityMobile; c++ {
		if c.String() == p.Connectivity {
			return c
		}
	}
	return session.ConnectivityWired
}
