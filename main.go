// ABOUTME: Entry point for the embedded demo player
// ABOUTME: Loads the YAML config, builds the engine and pumps it from one goroutine
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/Thalhammer/libspotify-embedded/internal/artwork"
	"github.com/Thalhammer/libspotify-embedded/internal/config"
	"github.com/Thalhammer/libspotify-embedded/internal/logging"
	"github.com/Thalhammer/libspotify-embedded/internal/metrics"
	"github.com/Thalhammer/libspotify-embedded/internal/ui"
	"github.com/Thalhammer/libspotify-embedded/internal/version"
	"github.com/Thalhammer/libspotify-embedded/pkg/audio"
	"github.com/Thalhammer/libspotify-embedded/pkg/audio/output"
	"github.com/Thalhammer/libspotify-embedded/pkg/cache"
	"github.com/Thalhammer/libspotify-embedded/pkg/discovery"
	"github.com/Thalhammer/libspotify-embedded/pkg/embedded"
	"github.com/Thalhammer/libspotify-embedded/pkg/errcode"
	"github.com/Thalhammer/libspotify-embedded/pkg/notify"
	"github.com/Thalhammer/libspotify-embedded/pkg/playback"
	"github.com/Thalhammer/libspotify-embedded/pkg/session"
	"github.com/Thalhammer/libspotify-embedded/pkg/transport"
)

var (
	configPath = flag.String("config", "player.yaml", "Player config file")
	password   = flag.String("password", "", "Log in with this password instead of stored credentials")
	logFile    = flag.String("log-file", "player.log", "Log file path in TUI mode")
	noTUI      = flag.Bool("no-tui", false, "Disable TUI, log to stderr instead")
)

const (
	pumpInterval   = 5 * time.Millisecond
	statusInterval = 250 * time.Millisecond
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "player:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadPlayer(*configPath)
	if err != nil {
		return err
	}

	useTUI := !*noTUI
	if useTUI {
		f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		cfg.Logging.Output = f
	}
	logger := logging.New(cfg.Logging)

	apAddr, err := accessPoint(cfg, logger)
	if err != nil {
		return err
	}
	deviceType, err := cfg.DeviceType()
	if err != nil {
		return err
	}

	storage, closeStorage, err := openStorage(cfg.Cache)
	if err != nil {
		return err
	}
	defer closeStorage()

	sink, err := output.NewOto(44100, 2, 500*time.Millisecond, logger)
	if err != nil {
		return err
	}
	defer sink.Close()

	var tui *terminal
	if useTUI {
		tui = newTerminal()
	}

	ecfg := embedded.Config{
		Session: session.Config{
			APIVersion:    version.APIVersion,
			WorkingMemory: session.MinWorkingMemory,
			AppKey:        []byte(cfg.AppKey),
			DeviceID:      cfg.Device.ID,
			Brand:         cfg.Device.Brand,
			Model:         cfg.Device.Model,
			DisplayName:   cfg.Device.DisplayName,
			DeviceType:    deviceType,
			OnError: func(err *errcode.Error) {
				logger.Error().Err(err).Str("code", err.Code.String()).Msg("engine error")
				tui.send(ui.ErrorMsg{Err: err})
			},
			APAddress: apAddr,
			Resolver:  transport.NewNetResolver(5 * time.Second),
			Dialer:    transport.NewWebSocketDialer(cfg.Path, logger),
		},
		Storage:     storage,
		CacheBudget: cfg.Cache.Budget,
		Sink:        sink,
		Bitrate:     cfg.Bitrate(),
		Volume:      uint16(cfg.Playback.Volume),
		Logger:      logger,
	}
	if cfg.ZeroConf.Enabled {
		ecfg.ZeroConf = &discovery.Config{Port: cfg.ZeroConf.Port}
	}

	e, err := embedded.Init(ecfg)
	if err != nil {
		return err
	}
	defer e.Free()

	if err := e.SetConnectivity(cfg.ConnectivityHint()); err != nil {
		return err
	}
	e.EnableShuffle(cfg.Playback.Shuffle)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.ZeroConf.Enabled {
		go servePairing(ctx, cfg.ZeroConf.Port, e.Pairing(), logger)
	}
	if cfg.MetricsAddr != "" {
		go serveMetrics(ctx, cfg.MetricsAddr, logger)
	}

	art, err := artwork.NewDownloader("", logger)
	if err != nil {
		logger.Warn().Err(err).Msg("artwork disabled")
	}
	subscribe(ctx, e, cfg, sink, art, tui, logger)

	if err := login(e, cfg, logger); err != nil {
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	var commands chan ui.Command
	if tui != nil {
		commands = tui.controls.Commands
		go func() {
			if _, err := tui.prog.Run(); err != nil {
				logger.Error().Err(err).Msg("tui failed")
			}
			sigs <- syscall.SIGTERM
		}()
		defer tui.prog.Kill()
	}

	pump := time.NewTicker(pumpInterval)
	defer pump.Stop()
	status := time.NewTicker(statusInterval)
	defer status.Stop()

	for {
		select {
		case <-pump.C:
			e.PumpEvents()
		case <-status.C:
			tui.send(snapshot(e, cfg))
		case cmd := <-commands:
			if cmd.Kind == ui.CmdQuit {
				logger.Info().Msg("quit requested")
				return nil
			}
			apply(e, cmd, logger)
		case sig := <-sigs:
			logger.Info().Str("signal", sig.String()).Msg("shutting down")
			return nil
		}
	}
}

// accessPoint returns the configured address or browses for one.
func accessPoint(cfg *config.Player, logger zerolog.Logger) (string, error) {
	if cfg.AccessPoint != "" {
		return cfg.AccessPoint, nil
	}
	logger.Info().Msg("browsing for an access point")
	found, err := discovery.Browse(context.Background(), discovery.AccessPointService, 5*time.Second)
	if err != nil {
		return "", err
	}
	if len(found) == 0 {
		return "", errors.New("no access point found; set access_point")
	}
	logger.Info().Str("name", found[0].Name).Str("addr", found[0].Addr()).Msg("access point discovered")
	return found[0].Addr(), nil
}

func openStorage(cfg config.CacheConfig) (cache.Storage, func(), error) {
	switch cfg.Backend {
	case "memory":
		return cache.NewMemoryStorage(), func() {}, nil
	case "badger":
		st, db, err := cache.OpenBadgerStorage(cfg.Dir)
		if err != nil {
			return nil, nil, err
		}
		return st, func() { closeDB(db) }, nil
	default:
		st, err := cache.NewFileStorage(cfg.Dir)
		if err != nil {
			return nil, nil, err
		}
		return st, func() {}, nil
	}
}

func closeDB(db *badger.DB) {
	if err := db.Close(); err != nil {
		fmt.Fprintln(os.Stderr, "close cache database:", err)
	}
}

func subscribe(ctx context.Context, e *embedded.Engine, cfg *config.Player, sink *output.Oto, art *artwork.Downloader, tui *terminal, logger zerolog.Logger) {
	e.Subscribe(notify.KindLoggedIn, notify.HandlerFunc(func(notify.Event) error {
		user := e.CanonicalUsername()
		logger.Info().Str("user", user).Msg("logged in")
		if blob := e.Session().Blob(); len(blob) > 0 {
			if err := saveCredentials(cfg.CredentialsFile, user, blob); err != nil {
				logger.Warn().Err(err).Msg("credentials not saved")
			}
		}
		if cfg.Playback.URI == "" || e.IsPlaying() {
			return nil
		}
		return e.PlayURI(cfg.Playback.URI, 0, 0)
	}))

	e.Subscribe(notify.KindPlaybackNotify, notify.HandlerFunc(func(ev notify.Event) error {
		n := ev.(playback.NotifyEvent).Notification
		logger.Debug().Str("notification", n.String()).Msg("playback")
		switch n {
		case playback.NotifyAudioFlush:
			sink.Flush()
		case playback.NotifyTrackChanged, playback.NotifyMetadataChanged:
			md, err := e.Metadata(0)
			if err != nil || md.ImageURI == "" || art == nil || tui == nil {
				return nil
			}
			url, err := e.ImageURL(md.ImageURI)
			if err != nil {
				return nil
			}
			go func() {
				path, err := art.Download(ctx, url)
				if err != nil {
					logger.Debug().Err(err).Msg("artwork download failed")
					return
				}
				tui.send(ui.ArtworkMsg{Path: path})
			}()
		}
		return nil
	}))

	e.Subscribe(notify.KindTrackUnavailable, notify.HandlerFunc(func(ev notify.Event) error {
		u := ev.(playback.TrackUnavailableEvent)
		logger.Warn().Str("uri", u.URI).Int("index", u.Index).Msg("track unavailable")
		return nil
	}))
}

func login(e *embedded.Engine, cfg *config.Player, logger zerolog.Logger) error {
	if *password != "" {
		if cfg.Username == "" {
			return errors.New("-password needs username in the config")
		}
		return e.LoginPassword(cfg.Username, *password)
	}
	creds, blob, err := loadCredentials(cfg.CredentialsFile)
	if err != nil {
		return err
	}
	if creds != nil {
		logger.Info().Str("user", creds.Username).Msg("logging in with stored credentials")
		return e.LoginBlob(creds.Username, blob)
	}
	if cfg.ZeroConf.Enabled {
		logger.Info().Msg("waiting for zeroconf pairing")
		return nil
	}
	return errors.New("no credentials: pass -password or enable zeroconf")
}

func apply(e *embedded.Engine, cmd ui.Command, logger zerolog.Logger) {
	var err error
	switch cmd.Kind {
	case ui.CmdTogglePlay:
		if e.IsPlaying() {
			err = e.Pause()
		} else {
			err = e.Play()
		}
	case ui.CmdNext:
		err = e.SkipNext()
	case ui.CmdPrev:
		err = e.SkipPrev()
	case ui.CmdSeek:
		err = e.Seek(cmd.Value)
	case ui.CmdVolume:
		e.UpdateVolume(uint16(cmd.Value * audio.MaxVolume / 100))
	case ui.CmdShuffle:
		e.EnableShuffle(cmd.Value != 0)
	case ui.CmdRepeat:
		e.EnableRepeat(cmd.Value != 0)
	}
	if err != nil {
		logger.Warn().Err(err).Int("command", int(cmd.Kind)).Msg("command failed")
	}
}

func snapshot(e *embedded.Engine, cfg *config.Player) ui.StatusMsg {
	ctx := e.Playback().Snapshot()
	msg := ui.StatusMsg{
		Connection:   e.Session().State().String(),
		User:         e.CanonicalUsername(),
		Device:       e.Session().DisplayName(),
		ContextTitle: ctx.Title,
		Index:        ctx.Index,
		Tracks:       len(ctx.Tracks),
		PositionMs:   e.Position(),
		State:        ctx.State.String(),
		Volume:       int(int64(ctx.Volume) * 100 / audio.MaxVolume),
		Shuffle:      ctx.Shuffle,
		Repeat:       ctx.Repeat,
		Active:       e.IsActiveDevice(),
		CacheUsed:    e.Cache().Usage(),
		CacheBudget:  cfg.Cache.Budget,
	}
	if md, err := e.Metadata(0); err == nil {
		msg.Title = md.Title
		msg.Artist = md.Artist
		msg.Album = md.Album
		msg.DurationMs = md.DurationMs
		msg.Bitrate = md.Bitrate
	}
	return msg
}

func servePairing(ctx context.Context, port int, p discovery.Pairing, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/zc", discovery.NewInfoHandler(p, logger))
	serve(ctx, &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}, logger)
}

func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	serve(ctx, &http.Server{Addr: addr, Handler: mux}, logger)
}

func serve(ctx context.Context, srv *http.Server, logger zerolog.Logger) {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Info().Str("addr", srv.Addr).Msg("http listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Str("addr", srv.Addr).Msg("http server failed")
	}
}

// terminal pairs the bubbletea program with its command channel.
type terminal struct {
	prog     *tea.Program
	controls *ui.Controls
}

func newTerminal() *terminal {
	controls := ui.NewControls()
	return &terminal{prog: ui.Run(controls), controls: controls}
}

// send is a no-op on a nil terminal.
func (t *terminal) send(msg tea.Msg) {
	if t != nil {
		t.prog.Send(msg)
	}
}
