// Package memcatalog is a reference store.PlaylistProvider backed by a
// small fixed in-memory catalog, keyed by playlist URL. It exists so
// cmd/tunehubd has a provider to drive without external credentials;
// it never reaches the network.
package memcatalog

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tunehub/tunehub/internal/apperr"
	"github.com/tunehub/tunehub/internal/playback"
	"github.com/tunehub/tunehub/internal/store"
)

type Catalog struct {
	mu        sync.RWMutex
	playlists map[string][]store.Track
	scraper   []store.Track
}

func New() *Catalog {
	return &Catalog{
		playlists: make(map[string][]store.Track),
	}
}

// Seed registers a playlist URL's track list, for tests and local demos.
func (c *Catalog) Seed(url string, tracks []store.Track) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.playlists[url] = tracks
	c.scraper = append(c.scraper, tracks...)
}

func (c *Catalog) ParsePlaylist(_ context.Context, url string, songCount int) (store.ParsedPlaylist, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tracks, ok := c.playlists[url]
	if !ok {
		return store.ParsedPlaylist{}, apperr.Inputf(apperr.CodeBadArgument, "unrecognized playlist url: %s", url)
	}

	if songCount > 0 && songCount < len(tracks) {
		tracks = tracks[:songCount]
	}

	return store.ParsedPlaylist{
		Source:       "memcatalog",
		PlaylistID:   uuid.NewSHA1(uuid.NameSpaceURL, []byte(url)).String(),
		PlaylistName: "Local playlist",
		Total:        len(tracks),
		Playable:     len(tracks),
		Tracks:       tracks,
	}, nil
}

func (c *Catalog) SearchScraper(_ context.Context, query string) (store.Track, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	q := strings.ToLower(query)
	for _, t := range c.scraper {
		if strings.Contains(strings.ToLower(t.Title+" "+t.Artist), q) {
			return t, true, nil
		}
	}
	return store.Track{}, false, nil
}

// FetchAuthToken implements store.AuthTokenSource, so the playback
// resolver exercises its cached-token path against this reference
// provider even though there is no real upstream behind it to require
// one.
func (c *Catalog) FetchAuthToken(_ context.Context) (string, time.Duration, error) {
	return "memcatalog-demo-token", time.Hour, nil
}

func (c *Catalog) SearchOfficial(ctx context.Context, query string) (store.Track, bool, error) {
	// A real official-API adapter would read its bearer token back out
	// here (playback.TokenFromContext(ctx)) and attach it to the
	// outbound request; this in-memory reference has no outbound
	// request to attach it to.
	_, _ = playback.TokenFromContext(ctx)
	return c.SearchScraper(ctx, query)
}
