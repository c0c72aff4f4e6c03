package room

import (
	"context"
	"crypto/rand"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tunehub/tunehub/internal/apperr"
	"github.com/tunehub/tunehub/internal/match"
	"github.com/tunehub/tunehub/internal/playback"
	"github.com/tunehub/tunehub/internal/store"
)

const defaultPointsAward = 10

// Engine is the state machine of a single room. All mutating methods
// serialize on a single mutex, matching the spec's "per-room lock"
// concurrency model (spec.md §5) — the mutex-protected-struct option
// the spec offers as an alternative to an actor goroutine.
type Engine struct {
	mu sync.Mutex

	room     *Room
	resolver *playback.Resolver
	backing  store.Store
	bc       Broadcaster
	verifier store.TokenVerifier

	minRoundTracks int
	seq            uint64
	logf           func(format string, args ...any)

	nextRoundInFlight bool

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

// NewEngine wraps an already-loaded or newly-created Room. logf may be
// nil to silence the engine.
func NewEngine(rm *Room, resolver *playback.Resolver, backing store.Store, bc Broadcaster, verifier store.TokenVerifier, minRoundTracks int, logf func(string, ...any)) *Engine {
	if minRoundTracks < 1 {
		minRoundTracks = 1
	}
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Engine{
		room:           rm,
		resolver:       resolver,
		backing:        backing,
		bc:             bc,
		verifier:       verifier,
		minRoundTracks: minRoundTracks,
		logf:           logf,
		Now:            time.Now,
	}
}

// Snapshot returns a read-only copy of the room's public state, for
// callers that only need to read back (e.g. REST endpoints).
func (e *Engine) Snapshot() RoomStatePayload {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.roomStatePayloadLocked()
}

func (e *Engine) Code() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.room.Code
}

// MemberCount reports how many members remain, for registry reaping.
func (e *Engine) MemberCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.room.Members)
}

// LastActive reports when this room last committed a mutation, for the
// registry's idle reaper.
func (e *Engine) LastActive() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.room.lastActive
}

func (e *Engine) persistLocked(ctx context.Context) {
	e.touchLocked()
	if e.backing == nil {
		return
	}
	snap := e.toSnapshotLocked()
	if err := e.backing.SaveRoom(ctx, e.room.Code, snap); err != nil {
		// Availability over durability: log and move on, per spec.md §7.
		e.logf("STORE: failed to save room %s: %v", e.room.Code, err)
	}
}

func (e *Engine) emitLocked(events []Event) {
	for _, ev := range events {
		e.bc.Deliver(e.room.Code, ev)
	}
}

func (e *Engine) touchLocked() {
	e.room.lastActive = e.Now()
}

func (e *Engine) requireHostLocked(connHandle string) error {
	if e.room.HostConn == "" || connHandle != e.room.HostConn {
		return apperr.PermissionError(apperr.CodeNotHost, "only the host may perform this action")
	}
	return nil
}

func (e *Engine) requireActiveRoundLocked() (*Round, error) {
	if e.room.CurrentRound == nil || e.room.CurrentRound.Solved {
		return nil, apperr.StateError(apperr.CodeNoRound, "no active round")
	}
	return e.room.CurrentRound, nil
}

func (e *Engine) requireGameTypeLocked(gt GameType) error {
	if e.room.GameType != gt {
		return apperr.StateError(apperr.CodeWrongMode, fmt.Sprintf("this action requires %s mode", gt))
	}
	return nil
}

// ---- membership ----

// AttachHost marks connHandle as the host of a freshly created room.
// Called once, by the registry, right after Create.
func (e *Engine) AttachHost(connHandle string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.room.HostConn = connHandle
}

func uniqueName(taken map[string]bool, want string) string {
	name := want
	n := 1
	for taken[name] {
		n++
		name = fmt.Sprintf("%s#%d", want, n)
	}
	return name
}

func trimName(name string) string {
	runes := []rune(strings.TrimSpace(name))
	if len(runes) > 32 {
		runes = runes[:32]
	}
	return string(runes)
}

// JoinRoom implements spec.md §4.4.1's six-step join sequence. Token
// verification happens outside the room lock (spec.md §5's suspension
// point), then the result is applied under the lock.
func (e *Engine) JoinRoom(ctx context.Context, connHandle, requestedName, token string) ([]Event, error) {
	var identity store.VerifiedIdentity
	if token != "" && e.verifier != nil {
		if v, err := e.verifier.Verify(ctx, token); err == nil {
			identity = v
		}
		// Verification failure downgrades to unauthenticated; never fatal
		// to joining, per spec.md §7 Auth.
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.touchLocked()

	name := trimName(requestedName)
	if name == "" {
		return nil, apperr.Inputf(apperr.CodeBadArgument, "name must not be empty")
	}

	// Step 1/2: host reattach.
	if identity.UserID != "" && identity.UserID == e.room.HostUser {
		e.room.HostConn = connHandle
	}

	// Step 3: first-login adoption.
	if e.room.HostUser == "" && connHandle == e.room.HostConn && identity.UserID != "" {
		e.room.HostUser = identity.UserID
	}

	// Step 4: migrate an existing member (including "pending-" sentinels)
	// under a new connection handle. The carry-over name, score, and
	// member-order position are preserved; buzzer holder and queue
	// entries are not rewritten and keep the old handle.
	if identity.UserID != "" {
		if existing := e.room.memberByUserID(identity.UserID); existing != nil && existing.ConnHandle != connHandle {
			delete(e.room.Members, existing.ConnHandle)
			e.room.replaceInOrder(existing.ConnHandle, connHandle)
			existing.ConnHandle = connHandle
			if identity.PhotoURL != "" {
				existing.AvatarURL = identity.PhotoURL
			}
			e.room.Members[connHandle] = existing
			return e.finishJoinLocked(ctx, existing.Name)
		}
	}

	taken := make(map[string]bool, len(e.room.Members))
	for handle, m := range e.room.Members {
		if handle != connHandle {
			taken[m.Name] = true
		}
	}
	finalName := uniqueName(taken, name)

	if m, ok := e.room.Members[connHandle]; ok {
		// Reconnect under the same handle (e.g. name re-announce).
		m.Name = finalName
		return e.finishJoinLocked(ctx, finalName)
	}

	member := &Member{
		ConnHandle: connHandle,
		UserID:     identity.UserID,
		Name:       finalName,
		AvatarURL:  identity.PhotoURL,
	}
	e.room.Members[connHandle] = member
	e.room.memberOrder = append(e.room.memberOrder, connHandle)

	return e.finishJoinLocked(ctx, finalName)
}

func (e *Engine) finishJoinLocked(ctx context.Context, name string) ([]Event, error) {
	events := []Event{
		{Kind: EventChat, Payload: ChatPayload{Text: name + " joined the room", System: true, At: e.Now()}},
		{Kind: EventRoomState, Payload: e.roomStatePayloadLocked()},
	}
	e.persistLocked(ctx)
	e.emitLocked(events)
	return events, nil
}

// SetName implements spec.md §4.4.1's setName.
func (e *Engine) SetName(ctx context.Context, connHandle, requestedName string) ([]Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.touchLocked()

	m, ok := e.room.Members[connHandle]
	if !ok {
		return nil, apperr.StateError(apperr.CodeBadArgument, "not a member of this room")
	}

	name := trimName(requestedName)
	if name == "" {
		return nil, apperr.Inputf(apperr.CodeBadArgument, "name must not be empty")
	}

	taken := make(map[string]bool, len(e.room.Members))
	for handle, other := range e.room.Members {
		if handle != connHandle {
			taken[other.Name] = true
		}
	}
	if taken[name] {
		var b [1]byte
		_, _ = rand.Read(b[:])
		name = fmt.Sprintf("%s#%d", name, 1+int(b[0])%99)
	}

	m.Name = name

	events := []Event{{Kind: EventRoomState, Payload: e.roomStatePayloadLocked()}}
	e.persistLocked(ctx)
	e.emitLocked(events)
	return events, nil
}

// Disconnect implements spec.md §4.4.1's disconnect, plus buzzer cleanup
// (§4.4.5) and room removal signaling. removeRoom is true when the
// caller (the registry) should drop the room from the in-memory map.
func (e *Engine) Disconnect(ctx context.Context, connHandle string) (events []Event, removeRoom bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.touchLocked()

	m, ok := e.room.Members[connHandle]
	if !ok {
		return nil, len(e.room.Members) == 0
	}

	delete(e.room.Members, connHandle)
	e.removeFromOrder(connHandle)
	delete(e.room.SkipVotes, connHandle)

	events = append(events, Event{Kind: EventChat, Payload: ChatPayload{Text: m.Name + " left the room", System: true, At: e.Now()}})

	if e.room.CurrentRound != nil && e.room.GameType == GameBuzzer && e.room.CurrentRound.Buzzer != nil {
		events = append(events, e.buzzerCleanupLocked(connHandle)...)
	}

	if connHandle == e.room.HostConn {
		e.room.HostConn = ""
		for _, handle := range e.room.memberOrder {
			if _, ok := e.room.Members[handle]; ok {
				e.room.HostConn = handle
				break
			}
		}
	}

	events = append(events, Event{Kind: EventRoomState, Payload: e.roomStatePayloadLocked()})

	if len(e.room.Members) == 0 {
		removeRoom = true
	}

	e.persistLocked(ctx)
	e.emitLocked(events)
	return events, removeRoom
}

func (e *Engine) removeFromOrder(connHandle string) {
	for i, h := range e.room.memberOrder {
		if h == connHandle {
			e.room.memberOrder = append(e.room.memberOrder[:i], e.room.memberOrder[i+1:]...)
			return
		}
	}
}

// KickPlayer implements spec.md §4.4.1's kickPlayer.
func (e *Engine) KickPlayer(ctx context.Context, connHandle, targetConnHandle string) ([]Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.touchLocked()

	if err := e.requireHostLocked(connHandle); err != nil {
		return nil, err
	}

	target, ok := e.room.Members[targetConnHandle]
	if !ok {
		return nil, apperr.Inputf(apperr.CodeBadArgument, "no such player")
	}

	delete(e.room.Members, targetConnHandle)
	e.removeFromOrder(targetConnHandle)
	delete(e.room.SkipVotes, targetConnHandle)

	events := []Event{
		{Kind: EventKicked, Target: targetConnHandle, Payload: KickedPayload{Message: "You have been removed by the host."}},
		{Kind: EventChat, Payload: ChatPayload{Text: target.Name + " was removed by the host", System: true, At: e.Now()}},
	}
	if e.room.CurrentRound != nil && e.room.GameType == GameBuzzer && e.room.CurrentRound.Buzzer != nil {
		events = append(events, e.buzzerCleanupLocked(targetConnHandle)...)
	}
	events = append(events, Event{Kind: EventRoomState, Payload: e.roomStatePayloadLocked()})
	e.persistLocked(ctx)
	e.emitLocked(events)
	return events, nil
}

// Chat broadcasts a player-authored chat line, capped at 280 code
// points per SPEC_FULL.md's ambient chat-moderation-by-length rule.
func (e *Engine) Chat(ctx context.Context, connHandle, text string) ([]Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.touchLocked()

	m, ok := e.room.Members[connHandle]
	if !ok {
		return nil, apperr.StateError(apperr.CodeBadArgument, "not a member of this room")
	}

	runes := []rune(text)
	if len(runes) == 0 {
		return nil, apperr.Inputf(apperr.CodeBadArgument, "chat text must not be empty")
	}
	if len(runes) > 280 {
		runes = runes[:280]
	}

	events := []Event{{Kind: EventChat, Payload: ChatPayload{Name: m.Name, Text: string(runes), At: e.Now()}}}
	e.emitLocked(events)
	return events, nil
}

// ---- game start ----

// StartGame implements spec.md §4.4.2.
func (e *Engine) StartGame(ctx context.Context, connHandle string, mode Mode, tracks []Track, gameType GameType) ([]Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.touchLocked()

	if err := e.requireHostLocked(connHandle); err != nil {
		return nil, err
	}
	if len(tracks) < e.minRoundTracks {
		return nil, apperr.Inputf(apperr.CodeBadArgument, "at least %d track(s) required", e.minRoundTracks)
	}
	if gameType != GameText && gameType != GameBuzzer {
		return nil, apperr.Inputf(apperr.CodeBadArgument, "unknown game type: %s", gameType)
	}

	shuffled := make([]Track, len(tracks))
	copy(shuffled, tracks)
	shuffleTracks(shuffled)

	e.room.Mode = mode
	e.room.GameType = gameType
	e.room.Tracks = shuffled
	e.room.RoundIndex = 0
	e.room.CurrentRound = nil
	e.room.SkipVotes = make(map[string]bool)
	e.room.AnswersKnown = true

	events := []Event{
		{Kind: EventGameStarted, Payload: GameStartedPayload{Mode: mode, GameType: gameType}},
		{Kind: EventRoomState, Payload: e.roomStatePayloadLocked()},
	}
	e.persistLocked(ctx)
	e.emitLocked(events)
	return events, nil
}

// shuffleTracks performs a Fisher-Yates shuffle using crypto/rand,
// directly grounded on celebrity.go's startGameLocked.
func shuffleTracks(tracks []Track) {
	for i := len(tracks) - 1; i > 0; i-- {
		j := cryptoIntn(i + 1)
		tracks[i], tracks[j] = tracks[j], tracks[i]
	}
}

func cryptoIntn(n int) int {
	if n <= 1 {
		return 0
	}
	var b [4]byte
	_, _ = rand.Read(b[:])
	v := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	return int(v % uint32(n))
}

// ---- round state machine ----

// NextRound implements spec.md §4.4.3's nextRound. Playback resolution
// happens outside the room lock (spec.md §5), guarded by
// nextRoundInFlight so only one advance runs at a time per room.
func (e *Engine) NextRound(ctx context.Context, connHandle string) ([]Event, error) {
	e.mu.Lock()
	if err := e.requireHostLocked(connHandle); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	if !e.room.AnswersKnown {
		e.mu.Unlock()
		return nil, apperr.StateError(apperr.CodeNoRound, "game has not been started")
	}
	if e.nextRoundInFlight {
		e.mu.Unlock()
		return nil, apperr.StateError(apperr.CodeNoRound, "round advance already in progress")
	}
	startIndex := e.room.RoundIndex
	tracks := make([]Track, len(e.room.Tracks))
	copy(tracks, e.room.Tracks)
	mode := e.room.Mode
	e.nextRoundInFlight = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.nextRoundInFlight = false
		e.mu.Unlock()
	}()

	committedIdx := -1
	var handle playback.Handle
	for i := startIndex; i < len(tracks); i++ {
		h, ok := e.resolver.Resolve(ctx, tracks[i], mode)
		if ok {
			committedIdx = i
			handle = h
			break
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.touchLocked()

	if committedIdx == -1 {
		e.room.RoundIndex = len(tracks)
		e.room.CurrentRound = nil
		events := []Event{
			{Kind: EventGameOver, Payload: GameOverPayload{Scores: e.scoreboardLocked()}},
			{Kind: EventRoomState, Payload: e.roomStatePayloadLocked()},
		}
		e.persistLocked(ctx)
		e.emitLocked(events)
		return events, nil
	}

	track := tracks[committedIdx]
	round := &Round{
		StartedAt: e.Now(),
		Track:     track,
		Playback:  handle,
		Answer:    match.Answer{Title: track.Title, Artist: track.Artist},
		Hint:      Hint{TitleLen: len([]rune(track.Title)), ArtistLen: len([]rune(track.Artist))},
	}
	e.room.CurrentRound = round
	e.room.RoundIndex = committedIdx + 1
	e.room.SkipVotes = make(map[string]bool)

	events := []Event{
		{Kind: EventRoundStart, Payload: RoundStartPayload{
			Mode: mode, GameType: e.room.GameType, StartedAt: round.StartedAt,
			Hint: round.Hint, Playback: toPlaybackPayload(handle),
		}},
		{Kind: EventRoomState, Payload: e.roomStatePayloadLocked()},
	}
	e.persistLocked(ctx)
	e.emitLocked(events)
	return events, nil
}

// PauseRound / ResumeRound implement spec.md §4.4.3.
func (e *Engine) PauseRound(ctx context.Context, connHandle string) ([]Event, error) {
	return e.setPaused(ctx, connHandle, true, EventPausePlayback)
}

func (e *Engine) ResumeRound(ctx context.Context, connHandle string) ([]Event, error) {
	return e.setPaused(ctx, connHandle, false, EventResumePlayback)
}

func (e *Engine) setPaused(ctx context.Context, connHandle string, paused bool, kind EventKind) ([]Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireHostLocked(connHandle); err != nil {
		return nil, err
	}
	round, err := e.requireActiveRoundLocked()
	if err != nil {
		return nil, err
	}

	round.Paused = paused
	events := []Event{{Kind: kind}, {Kind: EventRoomState, Payload: e.roomStatePayloadLocked()}}
	e.persistLocked(ctx)
	e.emitLocked(events)
	return events, nil
}

// VoteSkip implements spec.md §4.4.3's voteSkip.
func (e *Engine) VoteSkip(ctx context.Context, connHandle string) ([]Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	round, err := e.requireActiveRoundLocked()
	if err != nil {
		return nil, err
	}
	if _, ok := e.room.Members[connHandle]; !ok {
		return nil, apperr.StateError(apperr.CodeBadArgument, "not a member of this room")
	}

	e.room.SkipVotes[connHandle] = true

	if len(e.room.SkipVotes) > len(e.room.Members)/2 {
		events := e.endRoundLocked("", round, true)
		e.persistLocked(ctx)
		e.emitLocked(events)
		return events, nil
	}

	events := []Event{{Kind: EventRoomState, Payload: e.roomStatePayloadLocked()}}
	e.persistLocked(ctx)
	e.emitLocked(events)
	return events, nil
}

// endRoundLocked marks the round ended and returns the roundEnd +
// roomState events. Caller must hold e.mu. winnerConn is empty when
// there is no winner (skip, or manual end with no buzz).
func (e *Engine) endRoundLocked(winnerConn string, round *Round, skipped bool) []Event {
	round.Solved = true

	var winnerName string
	if winnerConn != "" {
		if m, ok := e.room.Members[winnerConn]; ok {
			winnerName = m.Name
		}
	}

	var elapsed time.Duration
	if round.Buzzer != nil {
		elapsed = round.Buzzer.FirstBuzzAt.Sub(round.StartedAt)
	} else {
		elapsed = e.Now().Sub(round.StartedAt)
	}

	return []Event{
		{Kind: EventRoundEnd, Payload: RoundEndPayload{
			Winner:    winnerName,
			Answer:    AnswerView{Title: round.Answer.Title, Artist: round.Answer.Artist},
			ElapsedMs: elapsed.Milliseconds(),
			Scores:    e.scoreboardLocked(),
			Skipped:   skipped,
		}},
		{Kind: EventRoomState, Payload: e.roomStatePayloadLocked()},
	}
}

// ---- text-mode scoring ----

// Guess implements spec.md §4.4.4.
func (e *Engine) Guess(ctx context.Context, connHandle, guessText string) ([]Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireGameTypeLocked(GameText); err != nil {
		return nil, err
	}
	round, err := e.requireActiveRoundLocked()
	if err != nil {
		return nil, err
	}
	guesser, ok := e.room.Members[connHandle]
	if !ok {
		return nil, apperr.StateError(apperr.CodeBadArgument, "not a member of this room")
	}

	// A text-mode guess is one free-form string; it is checked against
	// both the artist and title targets independently so "Ed Sheeran -
	// Shape of You" and "shape of you" score differently.
	result := match.MatchDetailed(guessText, guessText, round.Answer)

	var points int
	switch {
	case result.ArtistCorrect && result.TitleCorrect:
		points = 10
	case result.TitleCorrect:
		points = 5
	default:
		return nil, nil // no-op; only a non-zero guess ends the round
	}

	guesser.Score += points
	if guesser.UserID != "" && e.backing != nil {
		if err := e.backing.IncrementLeaderboard(ctx, guesser.UserID, guesser.Name, points); err != nil {
			e.logf("STORE: leaderboard increment failed: %v", err)
		}
	}

	events := e.endRoundLocked(connHandle, round, false)
	e.persistLocked(ctx)
	e.emitLocked(events)
	return events, nil
}

// ---- buzzer-mode protocol ----

// Buzz implements spec.md §4.4.5's first-buzz and queue-append behavior.
func (e *Engine) Buzz(ctx context.Context, connHandle string) ([]Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireGameTypeLocked(GameBuzzer); err != nil {
		return nil, err
	}
	round, err := e.requireActiveRoundLocked()
	if err != nil {
		return nil, err
	}
	m, ok := e.room.Members[connHandle]
	if !ok {
		return nil, apperr.StateError(apperr.CodeBadArgument, "not a member of this room")
	}

	now := e.Now()

	if round.Buzzer == nil {
		round.Buzzer = &Buzzer{
			FirstBuzzAt:       now,
			CurrentHolder:     connHandle,
			CurrentHolderName: m.Name,
		}
		round.Paused = true
		events := []Event{
			{Kind: EventPausePlayback},
			{Kind: EventBuzzed, Payload: BuzzedPayload{ConnHandle: connHandle, Name: m.Name, At: now}},
			{Kind: EventQueueUpdated, Payload: QueueUpdatedPayload{Queue: nil}},
			{Kind: EventRoomState, Payload: e.roomStatePayloadLocked()},
		}
		e.persistLocked(ctx)
		e.emitLocked(events)
		return events, nil
	}

	if connHandle == round.Buzzer.CurrentHolder {
		return nil, apperr.StateError(apperr.CodeAlreadyBuzzed, "you already hold the buzzer")
	}
	for _, q := range round.Buzzer.Queue {
		if q.ConnHandle == connHandle {
			return nil, apperr.StateError(apperr.CodeAlreadyBuzzed, "you are already queued")
		}
	}

	round.Buzzer.Queue = append(round.Buzzer.Queue, BuzzEntry{ConnHandle: connHandle, Name: m.Name, ArrivedAt: now})
	events := []Event{
		{Kind: EventQueueUpdated, Payload: QueueUpdatedPayload{Queue: queueNames(round.Buzzer)}},
		{Kind: EventRoomState, Payload: e.roomStatePayloadLocked()},
	}
	e.persistLocked(ctx)
	e.emitLocked(events)
	return events, nil
}

func queueNames(b *Buzzer) []string {
	names := make([]string, 0, len(b.Queue))
	for _, q := range b.Queue {
		names = append(names, q.Name)
	}
	return names
}

// PassBuzzer implements spec.md §4.4.5.
func (e *Engine) PassBuzzer(ctx context.Context, connHandle string) ([]Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireHostLocked(connHandle); err != nil {
		return nil, err
	}
	if err := e.requireGameTypeLocked(GameBuzzer); err != nil {
		return nil, err
	}
	round, err := e.requireActiveRoundLocked()
	if err != nil {
		return nil, err
	}
	if round.Buzzer == nil {
		return nil, apperr.StateError(apperr.CodeNoRound, "no one has buzzed yet")
	}

	var events []Event
	if len(round.Buzzer.Queue) > 0 {
		head := round.Buzzer.Queue[0]
		round.Buzzer.Queue = round.Buzzer.Queue[1:]
		round.Buzzer.CurrentHolder = head.ConnHandle
		round.Buzzer.CurrentHolderName = head.Name
		round.Paused = true
		events = []Event{
			{Kind: EventBuzzed, Payload: BuzzedPayload{ConnHandle: head.ConnHandle, Name: head.Name, At: e.Now()}},
			{Kind: EventQueueUpdated, Payload: QueueUpdatedPayload{Queue: queueNames(round.Buzzer)}},
			{Kind: EventPausePlayback},
			{Kind: EventRoomState, Payload: e.roomStatePayloadLocked()},
		}
	} else {
		round.Buzzer = nil
		round.Paused = false
		events = []Event{
			{Kind: EventBuzzCleared},
			{Kind: EventResumePlayback},
			{Kind: EventRoomState, Payload: e.roomStatePayloadLocked()},
		}
	}

	e.persistLocked(ctx)
	e.emitLocked(events)
	return events, nil
}

// AwardPoints / DeductPoints implement spec.md §4.4.5. A zero or
// negative point count means the default award of 10.
func (e *Engine) AwardPoints(ctx context.Context, connHandle, playerName string, points int) ([]Event, error) {
	if points <= 0 {
		points = defaultPointsAward
	}
	return e.adjustPoints(ctx, connHandle, playerName, points)
}

func (e *Engine) DeductPoints(ctx context.Context, connHandle, playerName string, points int) ([]Event, error) {
	if points <= 0 {
		points = defaultPointsAward
	}
	return e.adjustPoints(ctx, connHandle, playerName, -points)
}

func (e *Engine) adjustPoints(ctx context.Context, connHandle, playerName string, delta int) ([]Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireHostLocked(connHandle); err != nil {
		return nil, err
	}

	m := e.room.memberByName(playerName)
	if m == nil {
		return nil, apperr.Inputf(apperr.CodeBadArgument, "no such player: %s", playerName)
	}

	m.Score += delta
	if m.Score < 0 {
		m.Score = 0
	}
	if m.UserID != "" && e.backing != nil {
		if err := e.backing.IncrementLeaderboard(ctx, m.UserID, m.Name, delta); err != nil {
			e.logf("STORE: leaderboard increment failed: %v", err)
		}
	}

	events := []Event{{Kind: EventRoomState, Payload: e.roomStatePayloadLocked()}}
	e.persistLocked(ctx)
	e.emitLocked(events)
	return events, nil
}

// EndRoundManual implements spec.md §4.4.5.
func (e *Engine) EndRoundManual(ctx context.Context, connHandle string) ([]Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireHostLocked(connHandle); err != nil {
		return nil, err
	}
	round, err := e.requireActiveRoundLocked()
	if err != nil {
		return nil, err
	}

	winner := ""
	if round.Buzzer != nil {
		winner = round.Buzzer.CurrentHolder
	}

	events := e.endRoundLocked(winner, round, false)
	e.persistLocked(ctx)
	e.emitLocked(events)
	return events, nil
}

// HostVerifyGuess implements spec.md §4.4.5's advisory hostVerifyGuess.
// It never mutates room state.
func (e *Engine) HostVerifyGuess(connHandle, artist, title string) (DetailedMatchPayload, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireHostLocked(connHandle); err != nil {
		return DetailedMatchPayload{}, err
	}
	round, err := e.requireActiveRoundLocked()
	if err != nil {
		return DetailedMatchPayload{}, err
	}

	result := match.MatchDetailed(artist, title, round.Answer)
	return DetailedMatchPayload{ArtistCorrect: result.ArtistCorrect, TitleCorrect: result.TitleCorrect}, nil
}

// buzzerCleanupLocked implements spec.md §4.4.5's disconnect cleanup.
// Caller must hold e.mu and have already confirmed a buzzer exists.
func (e *Engine) buzzerCleanupLocked(connHandle string) []Event {
	round := e.room.CurrentRound
	b := round.Buzzer

	if b.CurrentHolder == connHandle {
		if len(b.Queue) > 0 {
			head := b.Queue[0]
			b.Queue = b.Queue[1:]
			b.CurrentHolder = head.ConnHandle
			b.CurrentHolderName = head.Name
			return []Event{
				{Kind: EventBuzzed, Payload: BuzzedPayload{ConnHandle: head.ConnHandle, Name: head.Name, At: e.Now()}},
				{Kind: EventQueueUpdated, Payload: QueueUpdatedPayload{Queue: queueNames(b)}},
			}
		}
		round.Buzzer = nil
		round.Paused = false
		return []Event{{Kind: EventBuzzCleared}, {Kind: EventResumePlayback}}
	}

	for i, q := range b.Queue {
		if q.ConnHandle == connHandle {
			b.Queue = append(b.Queue[:i], b.Queue[i+1:]...)
			return []Event{{Kind: EventQueueUpdated, Payload: QueueUpdatedPayload{Queue: queueNames(b)}}}
		}
	}
	return nil
}

// ---- views ----

func (e *Engine) scoreboardLocked() []ScoreEntry {
	entries := make([]ScoreEntry, 0, len(e.room.Members))
	for _, m := range e.room.Members {
		entries = append(entries, ScoreEntry{Name: m.Name, Score: m.Score})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].Name < entries[j].Name
	})
	return entries
}

func (e *Engine) roomStatePayloadLocked() RoomStatePayload {
	e.seq++

	players := make([]PlayerView, 0, len(e.room.Members))
	for _, handle := range e.room.memberOrder {
		m, ok := e.room.Members[handle]
		if !ok {
			continue
		}
		players = append(players, PlayerView{
			ConnHandle: m.ConnHandle,
			Name:       m.Name,
			Score:      m.Score,
			AvatarURL:  m.AvatarURL,
			IsHost:     m.ConnHandle == e.room.HostConn,
		})
	}

	var currentRound *RoundView
	if e.room.CurrentRound != nil {
		r := e.room.CurrentRound
		view := &RoundView{
			StartedAt: r.StartedAt,
			Hint:      r.Hint,
			Playback:  toPlaybackPayload(r.Playback),
			Paused:    r.Paused,
			Solved:    r.Solved,
		}
		if r.Buzzer != nil {
			view.Buzzer = &BuzzerView{
				CurrentHolderName: r.Buzzer.CurrentHolderName,
				Queue:             queueNames(r.Buzzer),
			}
		}
		currentRound = view
	}

	return RoomStatePayload{
		Code:         e.room.Code,
		HostConn:     e.room.HostConn,
		Players:      players,
		SkipVotes:    len(e.room.SkipVotes),
		HasTracks:    len(e.room.Tracks) > 0,
		GameStarted:  e.room.AnswersKnown,
		GameType:     e.room.GameType,
		RoundCount:   len(e.room.Tracks),
		CurrentRound: currentRound,
		Seq:          e.seq,
	}
}
