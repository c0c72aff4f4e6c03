package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"

	"github.com/tunehub/tunehub/internal/apperr"
	"github.com/tunehub/tunehub/internal/server"
	"github.com/tunehub/tunehub/internal/store"
)

const qrSize = 320

type parsePlaylistRequest struct {
	URL       string `json:"url"`
	SongCount int    `json:"songCount,omitempty"`
	Token     string `json:"token,omitempty"`
}

type trackDTO struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	PreviewURL string `json:"previewUrl,omitempty"`
	VideoID    string `json:"videoId,omitempty"`
	Cover      string `json:"cover,omitempty"`
	Source     string `json:"source"`
}

func toTrackDTOs(tracks []store.Track) []trackDTO {
	out := make([]trackDTO, len(tracks))
	for i, t := range tracks {
		out[i] = trackDTO{
			ID: t.ID, Title: t.Title, Artist: t.Artist,
			PreviewURL: t.PreviewURL, VideoID: t.VideoID, Cover: t.Cover, Source: t.Source,
		}
	}
	return out
}

type parsePlaylistResponse struct {
	Source         string                       `json:"source"`
	PlaylistID     string                       `json:"playlistId"`
	PlaylistName   string                       `json:"playlistName"`
	Total          int                          `json:"total"`
	Playable       int                          `json:"playable"`
	Tracks         []trackDTO                   `json:"tracks"`
	UpdatedHistory []store.PlaylistHistoryEntry `json:"updatedHistory,omitempty"`
}

// handleParsePlaylist implements spec.md §6.1's POST /api/parse-playlist.
func (g *Gateway) handleParsePlaylist(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	server.SecurityHeaders(g.cfg, w)

	var req parsePlaylistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeAPIError(w, http.StatusBadRequest, "url is required")
		return
	}
	if g.provider == nil {
		writeAPIError(w, http.StatusInternalServerError, "no playlist provider configured")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	parsed, err := g.provider.ParsePlaylist(ctx, req.URL, req.SongCount)
	if err != nil {
		if kind, ok := apperr.KindOf(err); ok && kind == apperr.Input {
			writeAPIError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeAPIError(w, http.StatusInternalServerError, "upstream playlist lookup failed")
		return
	}

	resp := parsePlaylistResponse{
		Source: parsed.Source, PlaylistID: parsed.PlaylistID, PlaylistName: parsed.PlaylistName,
		Total: parsed.Total, Playable: parsed.Playable, Tracks: toTrackDTOs(parsed.Tracks),
	}

	if req.Token != "" && g.verifier != nil && g.backing != nil {
		if identity, err := g.verifier.Verify(ctx, req.Token); err == nil {
			updated, err := g.backing.AppendRecentPlaylist(ctx, identity.UserID, store.PlaylistHistoryEntry{
				URL: req.URL, Name: parsed.PlaylistName, Source: parsed.Source,
			})
			if err == nil {
				resp.UpdatedHistory = updated
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

type leaderboardEntryDTO struct {
	UserID      string    `json:"uid"`
	Name        string    `json:"name"`
	Score       int       `json:"score"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// handleLeaderboard implements spec.md §6.1's GET /api/leaderboard.
func (g *Gateway) handleLeaderboard(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	server.SecurityHeaders(g.cfg, w)

	if g.backing == nil {
		writeJSON(w, http.StatusOK, []leaderboardEntryDTO{})
		return
	}

	entries, err := g.backing.GetLeaderboard(r.Context(), 10)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "leaderboard lookup failed")
		return
	}

	out := make([]leaderboardEntryDTO, len(entries))
	for i, e := range entries {
		out[i] = leaderboardEntryDTO{UserID: e.UserID, Name: e.Name, Score: e.Score, LastUpdated: e.LastUpdated}
	}
	writeJSON(w, http.StatusOK, out)
}

// handlePlaylistHistory implements spec.md §6.1's GET
// /api/playlist-history, which requires a bearer token.
func (g *Gateway) handlePlaylistHistory(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	server.SecurityHeaders(g.cfg, w)

	token := bearerToken(r)
	if token == "" {
		writeAPIError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}
	if g.verifier == nil || g.backing == nil {
		writeJSON(w, http.StatusOK, []store.PlaylistHistoryEntry{})
		return
	}

	identity, err := g.verifier.Verify(r.Context(), token)
	if err != nil {
		writeAPIError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	history, err := g.backing.GetRecentPlaylists(r.Context(), identity.UserID)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "history lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// handleRoomQR generates a PNG QR code pointing at the given room code,
// so a host can share a join link from their screen; mirrors web.go's
// qrHandler, backed by the same go-qrcode dependency.
func (g *Gateway) handleRoomQR(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	code := ps.ByName("code")
	if code == "" {
		writeAPIError(w, http.StatusBadRequest, "missing room code")
		return
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	url := scheme + "://" + r.Host + g.cfg.Prefix + "/join/" + code

	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "qr generation failed")
		return
	}

	server.SecurityHeaders(g.cfg, w)
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(auth, prefix) {
		return strings.TrimSpace(strings.TrimPrefix(auth, prefix))
	}
	return ""
}

type apiErrorResponse struct {
	Error string `json:"error"`
}

func writeAPIError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, apiErrorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
