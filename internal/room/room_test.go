package room

import (
	"context"
	"testing"
	"time"

	"github.com/tunehub/tunehub/internal/playback"
	"github.com/tunehub/tunehub/internal/store"
)

type noopProvider struct{}

func (noopProvider) ParsePlaylist(context.Context, string, int) (store.ParsedPlaylist, error) {
	return store.ParsedPlaylist{}, nil
}
func (noopProvider) SearchScraper(context.Context, string) (store.Track, bool, error) {
	return store.Track{}, false, nil
}
func (noopProvider) SearchOfficial(context.Context, string) (store.Track, bool, error) {
	return store.Track{}, false, nil
}

type fakeVerifier struct{}

func (fakeVerifier) Verify(_ context.Context, token string) (store.VerifiedIdentity, error) {
	return store.VerifiedIdentity{UserID: "uid-" + token}, nil
}

func newTestEngine() (*Engine, *RecordingBroadcaster) {
	resolver := playback.New(noopProvider{}, playback.NewBreaker(0), nil)
	bc := &RecordingBroadcaster{}
	rm := newRoom("TEST01")
	eng := NewEngine(rm, resolver, nil, bc, nil, 1, nil)
	eng.AttachHost("host-conn")
	return eng, bc
}

func newTestEngineWithVerifier() (*Engine, *RecordingBroadcaster) {
	resolver := playback.New(noopProvider{}, playback.NewBreaker(0), nil)
	bc := &RecordingBroadcaster{}
	rm := newRoom("TEST01")
	eng := NewEngine(rm, resolver, nil, bc, fakeVerifier{}, 1, nil)
	eng.AttachHost("host-conn")
	return eng, bc
}

func mustJoin(t *testing.T, eng *Engine, conn, name string) {
	t.Helper()
	if _, err := eng.JoinRoom(context.Background(), conn, name, ""); err != nil {
		t.Fatalf("join %s: %v", conn, err)
	}
}

func tracksFor(titles ...[2]string) []Track {
	out := make([]Track, 0, len(titles))
	for _, ta := range titles {
		out = append(out, Track{Title: ta[0], Artist: ta[1], PreviewURL: "preview-" + ta[0]})
	}
	return out
}

func TestJoinAssignsUniqueNames(t *testing.T) {
	eng, _ := newTestEngine()
	mustJoin(t, eng, "host-conn", "Alex")
	mustJoin(t, eng, "conn-2", "Alex")

	snap := eng.Snapshot()
	names := map[string]bool{}
	for _, p := range snap.Players {
		if names[p.Name] {
			t.Fatalf("duplicate name %q in %+v", p.Name, snap.Players)
		}
		names[p.Name] = true
	}
	if len(snap.Players) != 2 {
		t.Fatalf("expected 2 players, got %d", len(snap.Players))
	}
}

func TestExactlyOneHostAfterHostDisconnects(t *testing.T) {
	eng, _ := newTestEngine()
	mustJoin(t, eng, "host-conn", "Host")
	mustJoin(t, eng, "conn-2", "Guest")

	eng.Disconnect(context.Background(), "host-conn")

	snap := eng.Snapshot()
	hostCount := 0
	for _, p := range snap.Players {
		if p.IsHost {
			hostCount++
		}
	}
	if hostCount != 1 {
		t.Fatalf("expected exactly one host, got %d in %+v", hostCount, snap.Players)
	}
}

func TestStartGameRejectsNonHost(t *testing.T) {
	eng, _ := newTestEngine()
	mustJoin(t, eng, "host-conn", "Host")
	mustJoin(t, eng, "conn-2", "Guest")

	_, err := eng.StartGame(context.Background(), "conn-2", ModeCatalogPreview, tracksFor([2]string{"A", "B"}), GameText)
	if err == nil {
		t.Fatal("expected not-host error")
	}
}

func TestTextModeBothCorrectAwardsTenAndEndsRound(t *testing.T) {
	eng, _ := newTestEngine()
	mustJoin(t, eng, "host-conn", "Host")
	mustJoin(t, eng, "conn-2", "Guest")

	tracks := tracksFor([2]string{"Shape of You", "Ed Sheeran"})
	if _, err := eng.StartGame(context.Background(), "host-conn", ModeCatalogPreview, tracks, GameText); err != nil {
		t.Fatalf("start game: %v", err)
	}
	if _, err := eng.NextRound(context.Background(), "host-conn"); err != nil {
		t.Fatalf("next round: %v", err)
	}

	events, err := eng.Guess(context.Background(), "conn-2", "Ed Sheeran - Shape of You")
	if err != nil {
		t.Fatalf("guess: %v", err)
	}
	if len(events) == 0 {
		t.Fatal("expected round end events")
	}

	snap := eng.Snapshot()
	var guestScore int
	for _, p := range snap.Players {
		if p.ConnHandle == "conn-2" {
			guestScore = p.Score
		}
	}
	if guestScore != 10 {
		t.Fatalf("expected 10 points, got %d", guestScore)
	}
	if snap.CurrentRound == nil || !snap.CurrentRound.Solved {
		t.Fatal("expected round to be marked solved")
	}
}

func TestTextModeTitleOnlyAwardsFivePoints(t *testing.T) {
	eng, _ := newTestEngine()
	mustJoin(t, eng, "host-conn", "Host")
	mustJoin(t, eng, "conn-2", "Guest")

	tracks := tracksFor([2]string{"Shape of You", "Ed Sheeran"})
	eng.StartGame(context.Background(), "host-conn", ModeCatalogPreview, tracks, GameText)
	eng.NextRound(context.Background(), "host-conn")

	eng.Guess(context.Background(), "conn-2", "shape of you")

	snap := eng.Snapshot()
	var guestScore int
	for _, p := range snap.Players {
		if p.ConnHandle == "conn-2" {
			guestScore = p.Score
		}
	}
	if guestScore != 5 {
		t.Fatalf("expected 5 points for title-only match, got %d", guestScore)
	}
}

func TestScoresNeverGoNegative(t *testing.T) {
	eng, _ := newTestEngine()
	mustJoin(t, eng, "host-conn", "Host")
	mustJoin(t, eng, "conn-2", "Guest")

	if _, err := eng.DeductPoints(context.Background(), "host-conn", "Guest", 100); err != nil {
		t.Fatalf("deduct: %v", err)
	}

	snap := eng.Snapshot()
	for _, p := range snap.Players {
		if p.Score < 0 {
			t.Fatalf("score went negative: %+v", p)
		}
	}
}

func TestBuzzerOrderPassAndEnd(t *testing.T) {
	eng, _ := newTestEngine()
	mustJoin(t, eng, "host-conn", "Host")
	mustJoin(t, eng, "conn-2", "Alice")
	mustJoin(t, eng, "conn-3", "Bob")

	eng.Now = func() time.Time { return time.Unix(1000, 0) }

	tracks := tracksFor([2]string{"Africa", "Toto"})
	if _, err := eng.StartGame(context.Background(), "host-conn", ModeCatalogPreview, tracks, GameBuzzer); err != nil {
		t.Fatalf("start game: %v", err)
	}
	if _, err := eng.NextRound(context.Background(), "host-conn"); err != nil {
		t.Fatalf("next round: %v", err)
	}

	eng.Now = func() time.Time { return time.Unix(1002, 0) }
	if _, err := eng.Buzz(context.Background(), "conn-3"); err != nil {
		t.Fatalf("bob buzz: %v", err)
	}
	eng.Now = func() time.Time { return time.Unix(1003, 0) }
	if _, err := eng.Buzz(context.Background(), "conn-2"); err != nil {
		t.Fatalf("alice buzz: %v", err)
	}
	if _, err := eng.Buzz(context.Background(), "conn-3"); err == nil {
		t.Fatal("expected duplicate buzz from the current holder to be rejected")
	}

	snap := eng.Snapshot()
	if snap.CurrentRound == nil || snap.CurrentRound.Buzzer == nil {
		t.Fatal("expected an active buzzer")
	}
	if snap.CurrentRound.Buzzer.CurrentHolderName != "Bob" {
		t.Fatalf("expected Bob to hold the buzzer first, got %q", snap.CurrentRound.Buzzer.CurrentHolderName)
	}
	if len(snap.CurrentRound.Buzzer.Queue) != 1 || snap.CurrentRound.Buzzer.Queue[0] != "Alice" {
		t.Fatalf("expected Alice queued behind Bob, got %+v", snap.CurrentRound.Buzzer.Queue)
	}

	if _, err := eng.PassBuzzer(context.Background(), "host-conn"); err != nil {
		t.Fatalf("pass buzzer: %v", err)
	}
	snap = eng.Snapshot()
	if snap.CurrentRound.Buzzer.CurrentHolderName != "Alice" {
		t.Fatalf("expected Alice to hold the buzzer after pass, got %q", snap.CurrentRound.Buzzer.CurrentHolderName)
	}

	events, err := eng.EndRoundManual(context.Background(), "host-conn")
	if err != nil {
		t.Fatalf("end round: %v", err)
	}
	found := false
	for _, ev := range events {
		if ev.Kind == EventRoundEnd {
			payload := ev.Payload.(RoundEndPayload)
			if payload.Winner != "Alice" {
				t.Fatalf("expected Alice to win, got %q", payload.Winner)
			}
			found = true
		}
	}
	if !found {
		t.Fatal("expected a roundEnd event")
	}
}

func TestBuzzerElapsedTimeMatchesFirstBuzzMinusStart(t *testing.T) {
	eng, _ := newTestEngine()
	mustJoin(t, eng, "host-conn", "Host")
	mustJoin(t, eng, "conn-2", "Alice")

	eng.Now = func() time.Time { return time.Unix(2000, 0) }
	tracks := tracksFor([2]string{"Africa", "Toto"})
	eng.StartGame(context.Background(), "host-conn", ModeCatalogPreview, tracks, GameBuzzer)
	eng.NextRound(context.Background(), "host-conn")

	eng.Now = func() time.Time { return time.Unix(2005, 0) }
	eng.Buzz(context.Background(), "conn-2")

	events, err := eng.EndRoundManual(context.Background(), "host-conn")
	if err != nil {
		t.Fatalf("end round: %v", err)
	}
	for _, ev := range events {
		if ev.Kind == EventRoundEnd {
			payload := ev.Payload.(RoundEndPayload)
			if payload.ElapsedMs != 5000 {
				t.Fatalf("expected 5000ms elapsed, got %d", payload.ElapsedMs)
			}
		}
	}
}

func TestVoteSkipRequiresStrictMajority(t *testing.T) {
	eng, _ := newTestEngine()
	mustJoin(t, eng, "host-conn", "Host")
	mustJoin(t, eng, "conn-2", "Alice")
	mustJoin(t, eng, "conn-3", "Bob")

	tracks := tracksFor([2]string{"A", "B"}, [2]string{"C", "D"})
	eng.StartGame(context.Background(), "host-conn", ModeCatalogPreview, tracks, GameText)
	eng.NextRound(context.Background(), "host-conn")

	if _, err := eng.VoteSkip(context.Background(), "host-conn"); err != nil {
		t.Fatalf("first vote: %v", err)
	}
	snap := eng.Snapshot()
	if snap.CurrentRound == nil || snap.CurrentRound.Solved {
		t.Fatal("round should still be active after 1 of 3 votes")
	}

	if _, err := eng.VoteSkip(context.Background(), "conn-2"); err != nil {
		t.Fatalf("second vote: %v", err)
	}
	snap = eng.Snapshot()
	if snap.CurrentRound == nil || !snap.CurrentRound.Solved {
		t.Fatal("round should be skipped after 2 of 3 votes (strict majority)")
	}
}

func TestKickRemovesPlayerAndClosesBuzzerSlot(t *testing.T) {
	eng, _ := newTestEngine()
	mustJoin(t, eng, "host-conn", "Host")
	mustJoin(t, eng, "conn-2", "Alice")

	tracks := tracksFor([2]string{"Africa", "Toto"})
	if _, err := eng.StartGame(context.Background(), "host-conn", ModeCatalogPreview, tracks, GameBuzzer); err != nil {
		t.Fatalf("start game: %v", err)
	}
	if _, err := eng.NextRound(context.Background(), "host-conn"); err != nil {
		t.Fatalf("next round: %v", err)
	}
	if _, err := eng.Buzz(context.Background(), "conn-2"); err != nil {
		t.Fatalf("alice buzz: %v", err)
	}

	if _, err := eng.KickPlayer(context.Background(), "host-conn", "conn-2"); err != nil {
		t.Fatalf("kick: %v", err)
	}
	snap := eng.Snapshot()
	if len(snap.Players) != 1 {
		t.Fatalf("expected 1 player remaining, got %d", len(snap.Players))
	}
	if snap.CurrentRound == nil || snap.CurrentRound.Buzzer != nil {
		t.Fatalf("expected the kicked holder's buzzer slot to be cleared, got %+v", snap.CurrentRound)
	}
}

func TestGameOverWhenTrackPoolExhausted(t *testing.T) {
	eng, _ := newTestEngine()
	mustJoin(t, eng, "host-conn", "Host")

	tracks := tracksFor([2]string{"Only Track", "Only Artist"})
	eng.StartGame(context.Background(), "host-conn", ModeCatalogPreview, tracks, GameText)
	eng.NextRound(context.Background(), "host-conn")
	eng.Guess(context.Background(), "host-conn", "Only Artist - Only Track")

	events, err := eng.NextRound(context.Background(), "host-conn")
	if err != nil {
		t.Fatalf("next round after pool exhausted: %v", err)
	}
	found := false
	for _, ev := range events {
		if ev.Kind == EventGameOver {
			found = true
		}
	}
	if !found {
		t.Fatal("expected gameOver once the track pool is exhausted")
	}
}

func TestHostReattachByUserID(t *testing.T) {
	eng, _ := newTestEngineWithVerifier()
	if _, err := eng.JoinRoom(context.Background(), "host-conn", "Host", "tok-host"); err != nil {
		t.Fatalf("initial join: %v", err)
	}
	if eng.room.HostUser == "" {
		t.Fatal("expected host user id to be adopted")
	}

	eng.Disconnect(context.Background(), "host-conn")

	if _, err := eng.JoinRoom(context.Background(), "new-conn", "Host", "tok-host"); err != nil {
		t.Fatalf("reattach join: %v", err)
	}
	if eng.room.HostConn != "new-conn" {
		t.Fatalf("expected host to reattach on new-conn, got %q", eng.room.HostConn)
	}
}

func TestRegistryReapsOnlyIdleRooms(t *testing.T) {
	resolver := playback.New(noopProvider{}, playback.NewBreaker(0), nil)
	reg := NewRegistry(resolver, memStoreStub{}, &RecordingBroadcaster{}, nil, 1, nil)

	idle, err := reg.Create(context.Background(), "idle-host")
	if err != nil {
		t.Fatalf("create idle: %v", err)
	}
	idle.room.lastActive = time.Now().Add(-time.Hour)

	fresh, err := reg.Create(context.Background(), "fresh-host")
	if err != nil {
		t.Fatalf("create fresh: %v", err)
	}

	reg.ReapIdle(context.Background(), 30*time.Minute)

	if _, ok, _ := reg.Get(context.Background(), idle.room.Code); ok {
		t.Fatal("expected idle room to be reaped from memory")
	}
	if _, ok, _ := reg.Get(context.Background(), fresh.room.Code); !ok {
		t.Fatal("expected fresh room to remain resident")
	}
}

// memStoreStub is a minimal no-op store.Store: ReapIdle only needs
// SaveRoom/LoadRoom to be safe to call, never to round-trip real data,
// since a reaped room's last mutation already persisted.
type memStoreStub struct{}

func (memStoreStub) SaveRoom(context.Context, string, store.RoomSnapshot) error { return nil }
func (memStoreStub) LoadRoom(context.Context, string) (store.RoomSnapshot, bool, error) {
	return store.RoomSnapshot{}, false, nil
}
func (memStoreStub) DeleteRoom(context.Context, string) error { return nil }
func (memStoreStub) IncrementLeaderboard(context.Context, string, string, int) error {
	return nil
}
func (memStoreStub) GetLeaderboard(context.Context, int) ([]store.LeaderboardEntry, error) {
	return nil, nil
}
func (memStoreStub) AppendRecentPlaylist(context.Context, string, store.PlaylistHistoryEntry) ([]store.PlaylistHistoryEntry, error) {
	return nil, nil
}
func (memStoreStub) GetRecentPlaylists(context.Context, string) ([]store.PlaylistHistoryEntry, error) {
	return nil, nil
}
