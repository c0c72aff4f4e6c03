// Package playback resolves a Track into a playable handle, per
// spec.md §4.2: a pre-resolved video id or preview URL on the track
// itself, falling back to catalog search, with a process-wide circuit
// breaker over the official (quota-limited) search API.
package playback

import (
	"context"
	"errors"
	"time"

	"github.com/tunehub/tunehub/internal/store"
)

// Mode mirrors Room.mode: the playlist source mode fixed for the life
// of a game.
type Mode string

const (
	ModeCatalogPreview Mode = "catalog-preview"
	ModeVideoSite      Mode = "video-site"
)

// HandleType discriminates the PlaybackHandle payload.
type HandleType string

const (
	HandleAudio HandleType = "audio"
	HandleVideo HandleType = "video"
	HandleNone  HandleType = "none"
)

// Handle is the opaque payload delivered to clients to start local
// playback, per spec.md's Playback handle glossary entry.
type Handle struct {
	Type       HandleType
	PreviewURL string
	Cover      string
	VideoID    string
}

// searchTimeout bounds outbound catalog/search calls, per spec.md §5.
const searchTimeout = 5 * time.Second

// Resolver is the Playback Resolver component. It is safe for
// concurrent use; the breaker it wraps is process-wide by design.
type Resolver struct {
	provider store.PlaylistProvider
	breaker  *Breaker
	logf     func(format string, args ...any)

	// tokens is non-nil only when provider implements
	// store.AuthTokenSource, i.e. its official search sits behind a
	// refreshable bearer token rather than a static API key.
	tokens *TokenCache
}

func New(provider store.PlaylistProvider, breaker *Breaker, logf func(string, ...any)) *Resolver {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	r := &Resolver{provider: provider, breaker: breaker, logf: logf}
	if src, ok := provider.(store.AuthTokenSource); ok {
		r.tokens = NewTokenCache(src.FetchAuthToken)
	}
	return r
}

// IsSearchDown exposes the breaker's state, per spec.md §4.2.
func (r *Resolver) IsSearchDown() bool {
	return r.breaker.IsSearchDown()
}

// Resolve returns the playable handle for track under mode. ok is false
// when no source yields anything playable; the caller (the room engine)
// treats that as "skip this track."
func (r *Resolver) Resolve(ctx context.Context, track store.Track, mode Mode) (Handle, bool) {
	ctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	switch mode {
	case ModeCatalogPreview:
		return r.resolveCatalogPreview(ctx, track)
	case ModeVideoSite:
		return r.resolveVideoSite(ctx, track)
	default:
		return Handle{Type: HandleNone}, false
	}
}

func (r *Resolver) resolveCatalogPreview(ctx context.Context, track store.Track) (Handle, bool) {
	if track.VideoID != "" {
		return Handle{Type: HandleVideo, VideoID: track.VideoID}, true
	}
	if track.PreviewURL != "" {
		return Handle{Type: HandleAudio, PreviewURL: track.PreviewURL, Cover: track.Cover}, true
	}

	found, ok := r.searchScraper(ctx, track)
	if !ok {
		return Handle{Type: HandleNone}, false
	}
	if found.VideoID != "" {
		return Handle{Type: HandleVideo, VideoID: found.VideoID}, true
	}
	if found.PreviewURL == "" {
		return Handle{Type: HandleNone}, false
	}
	return Handle{Type: HandleAudio, PreviewURL: found.PreviewURL, Cover: found.Cover}, true
}

func (r *Resolver) resolveVideoSite(ctx context.Context, track store.Track) (Handle, bool) {
	if track.VideoID != "" && track.Source != "" {
		return Handle{Type: HandleVideo, VideoID: track.VideoID}, true
	}

	if found, ok := r.searchScraper(ctx, track); ok && found.VideoID != "" {
		return Handle{Type: HandleVideo, VideoID: found.VideoID}, true
	}

	found, ok := r.searchOfficial(ctx, track)
	if !ok || found.VideoID == "" {
		return Handle{Type: HandleNone}, false
	}
	return Handle{Type: HandleVideo, VideoID: found.VideoID}, true
}

func (r *Resolver) searchScraper(ctx context.Context, track store.Track) (store.Track, bool) {
	query := track.Title + " " + track.Artist
	found, ok, err := r.provider.SearchScraper(ctx, query)
	if err != nil {
		// Upstream failures during resolution are swallowed and cause the
		// track to be skipped, per spec.md §7 Upstream.
		r.logf("PLAYBACK: scraper search failed for %q: %v", query, err)
		return store.Track{}, false
	}
	return found, ok
}

func (r *Resolver) searchOfficial(ctx context.Context, track store.Track) (store.Track, bool) {
	if r.breaker.IsSearchDown() {
		return store.Track{}, false
	}

	if r.tokens != nil {
		token, err := r.tokens.Get(ctx)
		if err != nil {
			r.logf("PLAYBACK: auth token refresh failed: %v", err)
			return store.Track{}, false
		}
		ctx = withToken(ctx, token)
	}

	query := track.Title + " " + track.Artist
	found, ok, err := r.provider.SearchOfficial(ctx, query)
	if err != nil {
		if errors.Is(err, store.ErrQuotaExceeded) {
			r.breaker.Trip()
			r.logf("PLAYBACK: official search quota exceeded, tripping breaker")
		} else {
			r.logf("PLAYBACK: official search failed for %q: %v", query, err)
		}
		return store.Track{}, false
	}
	return found, ok
}
