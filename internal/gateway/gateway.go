// Package gateway implements the Protocol Gateway (spec.md §4.5): it
// translates inbound client events and REST calls into Room Engine
// operations, and broadcasts engine-produced events to every member of
// a room. It mirrors celebrity.go's Hub/Client/GameManager wiring,
// generalized from one game's message catalog to the richer
// inbound/outbound catalog spec.md §6.2 describes.
package gateway

import (
	"sync"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"

	"github.com/tunehub/tunehub/internal/config"
	"github.com/tunehub/tunehub/internal/room"
	"github.com/tunehub/tunehub/internal/store"
)

// Gateway owns the live websocket connection set and wires it to the
// Room Registry. One Gateway serves every room on the process.
type Gateway struct {
	cfg      *config.Config
	registry *room.Registry
	backing  store.Store
	provider store.PlaylistProvider
	verifier store.TokenVerifier

	mu          sync.Mutex
	clients     map[string]*Client         // connHandle -> Client
	roomMembers map[string]map[string]bool // roomCode -> set of connHandle
}

func New(cfg *config.Config, registry *room.Registry, backing store.Store, provider store.PlaylistProvider, verifier store.TokenVerifier) *Gateway {
	return &Gateway{
		cfg:         cfg,
		registry:    registry,
		backing:     backing,
		provider:    provider,
		verifier:    verifier,
		clients:     make(map[string]*Client),
		roomMembers: make(map[string]map[string]bool),
	}
}

// Register wires every REST and websocket route onto mux, under
// cfg.Prefix, per spec.md §6.1 and §6.2.
func (g *Gateway) Register(mux *httprouter.Router) {
	prefix := g.cfg.Prefix

	mux.POST(prefix+"/api/parse-playlist", g.handleParsePlaylist)
	mux.GET(prefix+"/api/leaderboard", g.handleLeaderboard)
	mux.GET(prefix+"/api/playlist-history", g.handlePlaylistHistory)
	mux.GET(prefix+"/api/rooms/:code/qr", g.handleRoomQR)
	mux.GET(prefix+"/ws", g.handleWebsocket)
}

// newConnHandle mints a transient per-socket identifier, distinct from
// the stable user id a TokenVerifier returns, per SPEC_FULL.md §3.
func newConnHandle() string {
	return uuid.NewString()
}

func (g *Gateway) addClient(c *Client) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.clients[c.connHandle] = c
}

func (g *Gateway) removeClient(connHandle string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.clients, connHandle)
	for code, members := range g.roomMembers {
		if members[connHandle] {
			delete(members, connHandle)
			if len(members) == 0 {
				delete(g.roomMembers, code)
			}
		}
	}
}

func (g *Gateway) trackMembership(code, connHandle string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	members, ok := g.roomMembers[code]
	if !ok {
		members = make(map[string]bool)
		g.roomMembers[code] = members
	}
	members[connHandle] = true
}

func (g *Gateway) untrackMembership(code, connHandle string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if members, ok := g.roomMembers[code]; ok {
		delete(members, connHandle)
		if len(members) == 0 {
			delete(g.roomMembers, code)
		}
	}
}

// Deliver implements room.Broadcaster. It is called synchronously by
// the engine, in commit order, once per Event; ordering per connection
// is preserved because a single room's engine calls are already
// serialized by its mutex (spec.md §5).
func (g *Gateway) Deliver(roomCode string, event room.Event) {
	env := outboundEnvelope{Type: event.Kind, Payload: event.Payload}

	g.mu.Lock()
	defer g.mu.Unlock()

	if event.Target != "" {
		if c, ok := g.clients[event.Target]; ok {
			c.trySend(env)
		}
		return
	}

	for connHandle := range g.roomMembers[roomCode] {
		if c, ok := g.clients[connHandle]; ok {
			c.trySend(env)
		}
	}
}
