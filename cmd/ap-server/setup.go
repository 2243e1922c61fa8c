// ABOUTME: Builds the access point service from its YAML config
// ABOUTME: Accounts, tokens, the blob sealer and the catalog contents
package main

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Thalhammer/libspotify-embedded/internal/config"
	"github.com/Thalhammer/libspotify-embedded/pkg/accesspoint"
)

// TonePlaylist collects the generated tones when tones are enabled.
const TonePlaylist = "spotify:playlist:tones"

var tones = []struct {
	uri   string
	title string
	freq  float64
}{
	{"spotify:track:tone-a4", "A4", 440},
	{"spotify:track:tone-c5", "C5", 523.25},
	{"spotify:track:tone-e5", "E5", 659.25},
}

const toneLength = 30 * time.Second

func buildService(cfg *config.AccessPoint, logger zerolog.Logger) (*accesspoint.Service, error) {
	dir := accesspoint.NewDirectory()
	for _, a := range cfg.Accounts {
		err := dir.Put(accesspoint.Account{
			Username:         a.Username,
			PasswordHash:     []byte(a.PasswordHash),
			Type:             a.Type,
			Banned:           a.Banned,
			TravelRestricted: a.TravelRestricted,
		})
		if err != nil {
			return nil, err
		}
	}
	for token, user := range cfg.Tokens {
		if err := dir.AddToken(token, user); err != nil {
			return nil, err
		}
	}

	key := sha256.Sum256([]byte(cfg.BlobSecret))
	sealer, err := accesspoint.NewSealer(key[:])
	if err != nil {
		return nil, err
	}

	catalog := accesspoint.NewCatalog(logger)
	if cfg.Tones {
		uris := make([]string, 0, len(tones))
		for _, t := range tones {
			if err := catalog.AddTone(t.uri, t.title, t.freq, toneLength); err != nil {
				return nil, err
			}
			uris = append(uris, t.uri)
		}
		if err := catalog.AddPlaylist(TonePlaylist, "Test Tones", uris...); err != nil {
			return nil, err
		}
	}
	if cfg.CatalogDir != "" {
		if _, err := catalog.LoadDir(cfg.CatalogDir); err != nil {
			return nil, fmt.Errorf("load catalog: %w", err)
		}
	}

	return accesspoint.NewService(accesspoint.Config{
		Name:       cfg.Name,
		Directory:  dir,
		Sealer:     sealer,
		Catalog:    catalog,
		LoginRate:  rate.Limit(cfg.LoginRate),
		LoginBurst: cfg.LoginBurst,
		ChunkSize:  cfg.ChunkSize,
		Logger:     logger,
	})
}
