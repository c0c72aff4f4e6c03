package room

import (
	"fmt"

	"github.com/tunehub/tunehub/internal/match"
	"github.com/tunehub/tunehub/internal/playback"
	"github.com/tunehub/tunehub/internal/store"
)

// toSnapshotLocked projects the live Room into its durable form. Only
// members with a stable UserID survive a save; anonymous members are
// reconstructed fresh on the next join, per spec.md's note that
// anonymous membership is not required to survive a restart.
func (e *Engine) toSnapshotLocked() store.RoomSnapshot {
	snap := store.RoomSnapshot{
		Code:         e.room.Code,
		HostUserID:   e.room.HostUser,
		Mode:         string(e.room.Mode),
		GameType:     string(e.room.GameType),
		RoundIndex:   e.room.RoundIndex,
		AnswersKnown: e.room.AnswersKnown,
		Tracks:       make([]store.SnapshotTrack, len(e.room.Tracks)),
		Players:      make(map[string]store.SnapshotPlayer),
	}

	for i, t := range e.room.Tracks {
		snap.Tracks[i] = toSnapshotTrack(t)
	}

	for _, m := range e.room.Members {
		if m.UserID == "" {
			continue
		}
		snap.Players[m.UserID] = store.SnapshotPlayer{
			Name:      m.Name,
			Score:     m.Score,
			AvatarURL: m.AvatarURL,
		}
	}

	if e.room.CurrentRound != nil {
		r := e.room.CurrentRound
		snap.CurrentRound = &store.SnapshotRound{
			StartedAt: r.StartedAt,
			Track:     toSnapshotTrack(r.Track),
			Solved:    r.Solved,
			Paused:    r.Paused,
		}
	}

	return snap
}

func toSnapshotTrack(t Track) store.SnapshotTrack {
	return store.SnapshotTrack{
		ID: t.ID, Title: t.Title, Artist: t.Artist,
		PreviewURL: t.PreviewURL, VideoID: t.VideoID, Cover: t.Cover, Source: t.Source,
	}
}

func fromSnapshotTrack(t store.SnapshotTrack) Track {
	return Track{
		ID: t.ID, Title: t.Title, Artist: t.Artist,
		PreviewURL: t.PreviewURL, VideoID: t.VideoID, Cover: t.Cover, Source: t.Source,
	}
}

// fromSnapshot reconstructs a Room from a persisted snapshot. Every
// persisted player is given a "pending-<uid>" sentinel connection
// handle, per spec.md's note that a reloaded room has no live
// connections until members reconnect and are migrated by JoinRoom.
func fromSnapshot(snap store.RoomSnapshot) *Room {
	r := newRoom(snap.Code)
	r.HostUser = snap.HostUserID
	r.Mode = Mode(snap.Mode)
	r.GameType = GameType(snap.GameType)
	r.RoundIndex = snap.RoundIndex
	r.AnswersKnown = snap.AnswersKnown

	r.Tracks = make([]Track, len(snap.Tracks))
	for i, t := range snap.Tracks {
		r.Tracks[i] = fromSnapshotTrack(t)
	}

	for userID, p := range snap.Players {
		handle := fmt.Sprintf("pending-%s", userID)
		m := &Member{
			ConnHandle: handle,
			UserID:     userID,
			Name:       p.Name,
			Score:      p.Score,
			AvatarURL:  p.AvatarURL,
		}
		r.Members[handle] = m
		r.memberOrder = append(r.memberOrder, handle)
		if userID == snap.HostUserID {
			r.HostConn = handle
		}
	}

	if snap.CurrentRound != nil {
		sr := snap.CurrentRound
		track := fromSnapshotTrack(sr.Track)
		r.CurrentRound = &Round{
			StartedAt: sr.StartedAt,
			Track:     track,
			Answer:    match.Answer{Title: track.Title, Artist: track.Artist},
			Playback:  playback.Handle{Type: playback.HandleNone},
			Solved:    sr.Solved,
			Paused:    sr.Paused,
			Hint: Hint{
				TitleLen:  len([]rune(track.Title)),
				ArtistLen: len([]rune(track.Artist)),
			},
		}
	}

	return r
}
