// ABOUTME: mDNS announcement of the device or an access point
// ABOUTME: Pause withdraws the record, Resume publishes it again
package discovery

import (
	"fmt"
	"net"
	"sync"

	"github.com/hashicorp/mdns"
	"github.com/rs/zerolog"
)

// Service types.
const (
	ConnectService     = "_spotify-connect._tcp"
	AccessPointService = "_spotify-ap._tcp"
)

// Config describes what an Announcer publishes.
type Config struct {
	Name string
	Port int

	// Service defaults to ConnectService.
	Service string
	// Path is the pairing endpoint, advertised as CPath. Defaults to /zc.
	Path    string
	Version string
	Stack   string

	// IPs to advertise. Empty uses every non-loopback IPv4 address.
	IPs []net.IP

	Logger zerolog.Logger
}

func (c *Config) setDefaults() {
	if c.Service == "" {
		c.Service = ConnectService
	}
	if c.Path == "" {
		c.Path = "/zc"
	}
	if c.Version == "" {
		c.Version = "1.0"
	}
	if c.Stack == "" {
		c.Stack = "SP"
	}
}

// Announcer keeps one mDNS record published until paused or closed.
type Announcer struct {
	cfg     Config
	service *mdns.MDNSService
	log     zerolog.Logger

	mu     sync.Mutex
	server *mdns.Server
	closed bool
}

// NewAnnouncer builds the record and starts publishing it.
func NewAnnouncer(cfg Config) (*Announcer, error) {
	cfg.setDefaults()
	if cfg.Name == "" || cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("announce: name and a valid port are required")
	}
	svc, err := newService(cfg)
	if err != nil {
		return nil, err
	}

	a := &Announcer{
		cfg:     cfg,
		service: svc,
		log:     cfg.Logger.With().Str("component", "discovery").Str("service", cfg.Service).Logger(),
	}
	if err := a.Resume(); err != nil {
		return nil, err
	}
	return a, nil
}

func newService(cfg Config) (*mdns.MDNSService, error) {
	ips := cfg.IPs
	if len(ips) == 0 {
		var err error
		if ips, err = localIPs(); err != nil {
			return nil, fmt.Errorf("failed to get local IPs: %w", err)
		}
	}
	svc, err := mdns.NewMDNSService(cfg.Name, cfg.Service, "", "", cfg.Port, ips, txtRecords(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}
	return svc, nil
}

func txtRecords(cfg Config) []string {
	return []string{
		"VERSION=" + cfg.Version,
		"CPath=" + cfg.Path,
		"Stack=" + cfg.Stack,
	}
}

// Path returns the advertised pairing endpoint.
func (a *Announcer) Path() string { return a.cfg.Path }

// Paused reports whether the record is withdrawn.
func (a *Announcer) Paused() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server == nil
}

// Pause stops answering mDNS queries until Resume.
func (a *Announcer) Pause() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server == nil {
		return nil
	}
	err := a.server.Shutdown()
	a.server = nil
	a.log.Debug().Msg("announcement paused")
	return err
}

// Resume publishes the record again.
func (a *Announcer) Resume() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("announce: closed")
	}
	if a.server != nil {
		return nil
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: a.service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}
	a.server = server
	a.log.Info().Str("name", a.cfg.Name).Int("port", a.cfg.Port).Msg("advertising")
	return nil
}

// Close withdraws the record for good.
func (a *Announcer) Close() error {
	err := a.Pause()
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	return err
}

// localIPs returns the non-loopback IPv4 addresses of interfaces that are up.
func localIPs() ([]net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	ips := []net.IP{}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
				ips = append(ips, ipnet.IP)
			}
		}
	}
	return ips, nil
}
