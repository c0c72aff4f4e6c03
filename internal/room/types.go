// Package room implements the Room Engine and Room Registry: the
// membership model, round state machine, buzzer protocol, and scoring
// described in spec.md §3 and §4.3-§4.4. It mirrors celebrity.go's
// Hub/GameManager pair, generalized from one mutex-guarded struct per
// concern into the richer state machine this spec calls for.
package room

import (
	"time"

	"github.com/tunehub/tunehub/internal/match"
	"github.com/tunehub/tunehub/internal/playback"
	"github.com/tunehub/tunehub/internal/store"
)

// Track is the room's view of a catalog entry; it is exactly
// store.Track, named locally so engine code doesn't read "store." for
// its most common type.
type Track = store.Track

// GameType fixes how answers are arbitrated for the life of a game.
type GameType string

const (
	GameText   GameType = "text"
	GameBuzzer GameType = "buzzer"
)

// Mode is the playlist source mode, fixed for the life of a game.
type Mode = playback.Mode

const (
	ModeCatalogPreview = playback.ModeCatalogPreview
	ModeVideoSite      = playback.ModeVideoSite
)

// Member is one participant, keyed primarily by connection handle for
// dispatch but carrying a stable user id when known, per spec.md's
// dual-identity design note.
type Member struct {
	ConnHandle string
	UserID     string // empty when unauthenticated
	Name       string
	Score      int
	AvatarURL  string
}

// BuzzEntry is one FIFO queue slot behind the current buzzer holder.
type BuzzEntry struct {
	ConnHandle string
	Name       string
	ArrivedAt  time.Time
}

// Buzzer exists only in buzzer mode, only after the first buzz in a
// round.
type Buzzer struct {
	FirstBuzzAt       time.Time
	CurrentHolder     string
	CurrentHolderName string
	Queue             []BuzzEntry
}

// Hint is the only leakage permitted to clients before a round ends.
type Hint struct {
	TitleLen  int
	ArtistLen int
}

// Round is one playback of a single track with arbitration state.
type Round struct {
	StartedAt time.Time
	Track     Track
	Playback  playback.Handle
	Answer    match.Answer
	Solved    bool
	Paused    bool
	Hint      Hint
	Buzzer    *Buzzer
}

// Room is the authoritative, in-memory state of one game session.
// It is exclusively owned by its Engine; callers never mutate it
// directly.
type Room struct {
	Code     string
	HostConn string // current connection handle of the host, may be empty
	HostUser string // stable user id that owns host rights, may be empty

	Members      map[string]*Member // connHandle -> Member
	memberOrder  []string           // insertion order, for host-inheritance on disconnect

	Mode         Mode
	GameType     GameType
	Tracks       []Track
	RoundIndex   int
	CurrentRound *Round
	SkipVotes    map[string]bool // connHandle set
	AnswersKnown bool

	createdAt  time.Time
	lastActive time.Time
}

func newRoom(code string) *Room {
	now := time.Now()
	return &Room{
		Code:       code,
		Members:    make(map[string]*Member),
		SkipVotes:  make(map[string]bool),
		createdAt:  now,
		lastActive: now,
	}
}

func (r *Room) memberByUserID(userID string) *Member {
	if userID == "" {
		return nil
	}
	for _, m := range r.Members {
		if m.UserID == userID {
			return m
		}
	}
	return nil
}

func (r *Room) replaceInOrder(oldHandle, newHandle string) {
	for i, h := range r.memberOrder {
		if h == oldHandle {
			r.memberOrder[i] = newHandle
			return
		}
	}
	r.memberOrder = append(r.memberOrder, newHandle)
}

func (r *Room) memberByName(name string) *Member {
	for _, m := range r.Members {
		if m.Name == name {
			return m
		}
	}
	return nil
}
