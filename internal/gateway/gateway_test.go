package gateway

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/tunehub/tunehub/internal/config"
	"github.com/tunehub/tunehub/internal/playback"
	"github.com/tunehub/tunehub/internal/room"
	"github.com/tunehub/tunehub/internal/store"
	"github.com/tunehub/tunehub/internal/store/memstore"
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

func newTestServer(t *testing.T) (*httptest.Server, *Gateway) {
	t.Helper()

	cfg := &config.Config{MinRoundTracks: 1}
	backing := memstore.New()
	resolver := playback.New(noopProvider{}, playback.NewBreaker(0), nil)
	registry := room.NewRegistry(resolver, backing, nil, nil, 1, nil)
	gw := New(cfg, registry, backing, noopProvider{}, nil)
	registry.SetBroadcaster(gw)

	mux := httprouter.New()
	gw.Register(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv, gw
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, id, typ string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if err := conn.WriteJSON(inboundEnvelope{ID: id, Type: typ, Payload: raw}); err != nil {
		t.Fatalf("send %s: %v", typ, err)
	}
}

// readUntil reads messages off conn until pred returns true, returning
// the decoded message as a generic map, or fails the test after a
// bounded number of reads.
func readUntil(t *testing.T, conn *websocket.Conn, pred func(map[string]any) bool) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for i := 0; i < 50; i++ {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if pred(msg) {
			return msg
		}
	}
	t.Fatal("predicate never matched")
	return nil
}

func isAck(id string) func(map[string]any) bool {
	return func(m map[string]any) bool {
		return m["type"] == "ack" && m["id"] == id
	}
}

func isType(kind string) func(map[string]any) bool {
	return func(m map[string]any) bool {
		return m["type"] == kind
	}
}

// TestEndToEndTextSolve drives the exact scenario from spec.md §8
// scenario 1 through the websocket surface: a host creates a room, a
// player joins, the host starts a text-mode game and advances to the
// first round, and the player's correct guess ends the round with full
// (title+artist) points.
func TestEndToEndTextSolve(t *testing.T) {
	srv, _ := newTestServer(t)

	host := dial(t, srv)
	send(t, host, "1", "createRoom", nil)
	ack := readUntil(t, host, isAck("1"))
	if ok, _ := ack["ok"].(bool); !ok {
		t.Fatalf("createRoom ack not ok: %+v", ack)
	}
	data, _ := ack["data"].(map[string]any)
	code, _ := data["code"].(string)
	if code == "" {
		t.Fatalf("createRoom ack missing code: %+v", ack)
	}

	bob := dial(t, srv)
	send(t, bob, "2", "joinRoom", joinRoomIn{Code: code, Name: "Bob"})

	// The engine broadcasts the join's chat+roomState synchronously from
	// inside JoinRoom, before the gateway sends the ack for it, so they
	// arrive on Bob's wire ahead of the ack.
	readUntil(t, bob, isType("chat"))
	readUntil(t, bob, isType("roomState"))
	ack = readUntil(t, bob, isAck("2"))
	if ok, _ := ack["ok"].(bool); !ok {
		t.Fatalf("joinRoom ack not ok: %+v", ack)
	}
	readUntil(t, host, isType("chat"))
	readUntil(t, host, isType("roomState"))

	send(t, host, "3", "startGame", startGameIn{
		Code:     code,
		Mode:     room.ModeCatalogPreview,
		GameType: room.GameText,
		Tracks: []room.Track{
			{Title: "Deszcz na betonie", Artist: "Taco Hemingway", PreviewURL: "p1"},
		},
	})
	readUntil(t, host, isType("gameStarted"))
	readUntil(t, host, isType("roomState"))
	ack = readUntil(t, host, isAck("3"))
	if ok, _ := ack["ok"].(bool); !ok {
		t.Fatalf("startGame ack not ok: %+v", ack)
	}
	readUntil(t, bob, isType("gameStarted"))
	readUntil(t, bob, isType("roomState"))

	send(t, host, "4", "nextRound", codeOnlyIn{Code: code})
	readUntil(t, host, isType("roundStart"))
	readUntil(t, host, isType("roomState"))
	ack = readUntil(t, host, isAck("4"))
	if ok, _ := ack["ok"].(bool); !ok {
		t.Fatalf("nextRound ack not ok: %+v", ack)
	}
	readUntil(t, bob, isType("roundStart"))
	readUntil(t, bob, isType("roomState"))

	send(t, bob, "5", "guess", guessIn{Code: code, GuessText: "Taco Hemingway Deszcz na betonie"})

	// The engine broadcasts roundEnd+roomState synchronously from inside
	// the Guess call, before the gateway sends the ack for it, so they
	// arrive on the wire in that order.
	roundEnd := readUntil(t, bob, isType("roundEnd"))
	payload, _ := roundEnd["payload"].(map[string]any)
	if winner, _ := payload["winner"].(string); winner != "Bob" {
		t.Fatalf("expected winner Bob, got %+v", payload)
	}
	scores, _ := payload["scores"].([]any)
	if len(scores) != 1 {
		t.Fatalf("expected one score entry, got %+v", scores)
	}
	first, _ := scores[0].(map[string]any)
	if score, _ := first["score"].(float64); score != 10 {
		t.Fatalf("expected Bob's score to be 10, got %v", first)
	}

	readUntil(t, bob, isType("roomState"))
	ack = readUntil(t, bob, isAck("5"))
	if ok, _ := ack["ok"].(bool); !ok {
		t.Fatalf("guess ack not ok: %+v", ack)
	}
}

// TestUnknownRoomCodeReturnsInputError exercises the gateway's ack
// error path for spec.md §7's Input taxonomy.
func TestUnknownRoomCodeReturnsInputError(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dial(t, srv)

	send(t, conn, "1", "joinRoom", joinRoomIn{Code: "NOSUCH", Name: "Alice"})
	ack := readUntil(t, conn, isAck("1"))
	if ok, _ := ack["ok"].(bool); ok {
		t.Fatalf("expected ack failure for unknown room, got %+v", ack)
	}
	errPayload, _ := ack["error"].(map[string]any)
	if kind, _ := errPayload["kind"].(string); kind != "input" {
		t.Fatalf("expected input error kind, got %+v", errPayload)
	}
}
