package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/tunehub/tunehub/internal/apperr"
	"github.com/tunehub/tunehub/internal/room"
	"github.com/tunehub/tunehub/internal/server"
)

// Client is one websocket connection's read/write pump pair, directly
// grounded on celebrity.go's Client: a conn plus a buffered outbound
// channel drained by a dedicated writer goroutine, so a slow client
// never blocks the room's broadcast path.
type Client struct {
	gw         *Gateway
	conn       *websocket.Conn
	send       chan any
	connHandle string
	roomCode   string // empty until createRoom/joinRoom succeeds

	sendMu sync.Mutex
	closed bool
}

// trySend enqueues msg without blocking; a full outbound queue means the
// client is too far behind, so it is dropped rather than stalling the
// room's broadcast, mirroring celebrity.go's select-default disconnect
// pattern. Closing the conn here unwinds the read pump, which does the
// gateway-side cleanup; trySend itself must not touch gateway state, as
// it is called with the gateway lock held during broadcast.
func (c *Client) trySend(msg any) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed {
		return
	}
	select {
	case c.send <- msg:
	default:
		c.closed = true
		close(c.send)
		_ = c.conn.Close()
	}
}

// shutdown stops the write pump and closes the socket, exactly once.
func (c *Client) shutdown() {
	c.sendMu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.sendMu.Unlock()
	_ = c.conn.Close()
}

func (g *Gateway) handleWebsocket(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			return g.cfg.OriginAllowed(origin)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.cfg.Logf("WS: upgrade failed for %s: %v", server.RealIP(r), err)
		return
	}

	c := &Client{
		gw:         g,
		conn:       conn,
		send:       make(chan any, 16),
		connHandle: newConnHandle(),
	}
	g.addClient(c)

	go c.writePump()
	c.readPump()
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.handleDisconnect()
		c.gw.removeClient(c.connHandle)
		c.shutdown()
	}()

	for {
		var env inboundEnvelope
		if err := c.conn.ReadJSON(&env); err != nil {
			return
		}
		c.dispatch(env)
	}
}

func (c *Client) handleDisconnect() {
	if c.roomCode == "" {
		return
	}
	eng, ok, err := c.gw.registry.Get(context.Background(), c.roomCode)
	if err != nil || !ok {
		return
	}
	_, removeRoom := eng.Disconnect(context.Background(), c.connHandle)
	c.gw.untrackMembership(c.roomCode, c.connHandle)
	if removeRoom {
		c.gw.registry.Remove(context.Background(), c.roomCode)
	}
}

// ack replies to env if it carried an id; events are already on their
// way to clients via the Broadcaster, so an ack only needs to convey
// success/failure plus whatever data the operation doesn't otherwise
// broadcast (e.g. the freshly minted room code).
func (c *Client) ack(env inboundEnvelope, data any, err error) {
	if env.ID == "" {
		return
	}
	reply := ackEnvelope{Type: "ack", ID: env.ID}
	if err != nil {
		reply.Error = toAckError(err)
	} else {
		reply.OK = true
		reply.Data = data
	}
	c.trySend(reply)
}

func toAckError(err error) *ackError {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return &ackError{Kind: string(ae.Kind), Code: ae.Code, Message: ae.Message}
	}
	return &ackError{Kind: string(apperr.Upstream), Code: "internal", Message: err.Error()}
}

func (c *Client) dispatch(env inboundEnvelope) {
	ctx := context.Background()

	switch env.Type {
	case "createRoom":
		c.onCreateRoom(ctx, env)
	case "joinRoom":
		c.onJoinRoom(ctx, env)
	case "setName":
		c.onSetName(ctx, env)
	case "startGame":
		c.onStartGame(ctx, env)
	case "nextRound":
		c.onNextRound(ctx, env)
	case "guess":
		c.onGuess(ctx, env)
	case "chat":
		c.onChat(ctx, env)
	case "voteSkip":
		c.onVoteSkip(ctx, env)
	case "buzz":
		c.onBuzz(ctx, env)
	case "passBuzzer":
		c.onPassBuzzer(ctx, env)
	case "awardPoints":
		c.onAwardPoints(ctx, env)
	case "deductPoints":
		c.onDeductPoints(ctx, env)
	case "endRoundManual":
		c.onEndRoundManual(ctx, env)
	case "hostVerifyGuess":
		c.onHostVerifyGuess(ctx, env)
	case "pauseRound":
		c.onPauseRound(ctx, env)
	case "resumeRound":
		c.onResumeRound(ctx, env)
	case "kickPlayer":
		c.onKickPlayer(ctx, env)
	default:
		c.ack(env, nil, apperr.Inputf(apperr.CodeBadArgument, "unknown event type: %s", env.Type))
	}
}

func decode[T any](env inboundEnvelope) (T, error) {
	var v T
	if len(env.Payload) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(env.Payload, &v); err != nil {
		return v, apperr.Inputf(apperr.CodeBadArgument, "malformed payload: %v", err)
	}
	return v, nil
}

func (c *Client) engineFor(ctx context.Context, code string) (*room.Engine, error) {
	eng, ok, err := c.gw.registry.Get(ctx, code)
	if err != nil {
		return nil, apperr.Upstreamf(apperr.CodeRoomNotFound, err, "failed to load room %s", code)
	}
	if !ok {
		return nil, apperr.Inputf(apperr.CodeRoomNotFound, "no such room: %s", code)
	}
	return eng, nil
}

func (c *Client) onCreateRoom(ctx context.Context, env inboundEnvelope) {
	eng, err := c.gw.registry.Create(ctx, c.connHandle)
	if err != nil {
		c.ack(env, nil, apperr.Upstreamf("create-room-failed", err, "failed to create room"))
		return
	}
	code := eng.Code()
	c.roomCode = code
	c.gw.trackMembership(code, c.connHandle)
	c.ack(env, createRoomAck{Code: code}, nil)
}

func (c *Client) onJoinRoom(ctx context.Context, env inboundEnvelope) {
	in, err := decode[joinRoomIn](env)
	if err != nil {
		c.ack(env, nil, err)
		return
	}
	eng, err := c.engineFor(ctx, in.Code)
	if err != nil {
		c.ack(env, nil, err)
		return
	}
	// Track membership before the call: JoinRoom broadcasts synchronously
	// from inside the engine, and this socket must already be in the
	// room's delivery set to receive its own join broadcast.
	c.gw.trackMembership(in.Code, c.connHandle)
	if _, err := eng.JoinRoom(ctx, c.connHandle, in.Name, in.Token); err != nil {
		c.gw.untrackMembership(in.Code, c.connHandle)
		c.ack(env, nil, err)
		return
	}
	c.roomCode = in.Code
	c.ack(env, joinRoomAck{Code: in.Code, ConnHandle: c.connHandle}, nil)
}

func (c *Client) onSetName(ctx context.Context, env inboundEnvelope) {
	in, err := decode[setNameIn](env)
	if err != nil {
		c.ack(env, nil, err)
		return
	}
	eng, err := c.engineFor(ctx, in.Code)
	if err != nil {
		c.ack(env, nil, err)
		return
	}
	_, err = eng.SetName(ctx, c.connHandle, in.Name)
	c.ack(env, nil, err)
}

func (c *Client) onStartGame(ctx context.Context, env inboundEnvelope) {
	in, err := decode[startGameIn](env)
	if err != nil {
		c.ack(env, nil, err)
		return
	}
	eng, err := c.engineFor(ctx, in.Code)
	if err != nil {
		c.ack(env, nil, err)
		return
	}
	_, err = eng.StartGame(ctx, c.connHandle, in.Mode, in.Tracks, in.GameType)
	c.ack(env, nil, err)
}

func (c *Client) onNextRound(ctx context.Context, env inboundEnvelope) {
	in, err := decode[nextRoundIn](env)
	if err != nil {
		c.ack(env, nil, err)
		return
	}
	eng, err := c.engineFor(ctx, in.Code)
	if err != nil {
		c.ack(env, nil, err)
		return
	}
	_, err = eng.NextRound(ctx, c.connHandle)
	c.ack(env, nil, err)
}

func (c *Client) onGuess(ctx context.Context, env inboundEnvelope) {
	in, err := decode[guessIn](env)
	if err != nil {
		c.ack(env, nil, err)
		return
	}
	eng, err := c.engineFor(ctx, in.Code)
	if err != nil {
		c.ack(env, nil, err)
		return
	}
	_, err = eng.Guess(ctx, c.connHandle, in.GuessText)
	c.ack(env, nil, err)
}

func (c *Client) onChat(ctx context.Context, env inboundEnvelope) {
	in, err := decode[chatIn](env)
	if err != nil {
		c.ack(env, nil, err)
		return
	}
	eng, err := c.engineFor(ctx, in.Code)
	if err != nil {
		c.ack(env, nil, err)
		return
	}
	_, err = eng.Chat(ctx, c.connHandle, in.Text)
	c.ack(env, nil, err)
}

func (c *Client) onVoteSkip(ctx context.Context, env inboundEnvelope) {
	in, err := decode[voteSkipIn](env)
	if err != nil {
		c.ack(env, nil, err)
		return
	}
	eng, err := c.engineFor(ctx, in.Code)
	if err != nil {
		c.ack(env, nil, err)
		return
	}
	_, err = eng.VoteSkip(ctx, c.connHandle)
	c.ack(env, nil, err)
}

func (c *Client) onBuzz(ctx context.Context, env inboundEnvelope) {
	in, err := decode[buzzIn](env)
	if err != nil {
		c.ack(env, nil, err)
		return
	}
	eng, err := c.engineFor(ctx, in.Code)
	if err != nil {
		c.ack(env, nil, err)
		return
	}
	_, err = eng.Buzz(ctx, c.connHandle)
	c.ack(env, nil, err)
}

func (c *Client) onPassBuzzer(ctx context.Context, env inboundEnvelope) {
	in, err := decode[passBuzzerIn](env)
	if err != nil {
		c.ack(env, nil, err)
		return
	}
	eng, err := c.engineFor(ctx, in.Code)
	if err != nil {
		c.ack(env, nil, err)
		return
	}
	_, err = eng.PassBuzzer(ctx, c.connHandle)
	c.ack(env, nil, err)
}

func (c *Client) onAwardPoints(ctx context.Context, env inboundEnvelope) {
	in, err := decode[awardPointsIn](env)
	if err != nil {
		c.ack(env, nil, err)
		return
	}
	eng, err := c.engineFor(ctx, in.Code)
	if err != nil {
		c.ack(env, nil, err)
		return
	}
	_, err = eng.AwardPoints(ctx, c.connHandle, in.PlayerName, in.Points)
	c.ack(env, nil, err)
}

func (c *Client) onDeductPoints(ctx context.Context, env inboundEnvelope) {
	in, err := decode[deductPointsIn](env)
	if err != nil {
		c.ack(env, nil, err)
		return
	}
	eng, err := c.engineFor(ctx, in.Code)
	if err != nil {
		c.ack(env, nil, err)
		return
	}
	_, err = eng.DeductPoints(ctx, c.connHandle, in.PlayerName, in.Points)
	c.ack(env, nil, err)
}

func (c *Client) onEndRoundManual(ctx context.Context, env inboundEnvelope) {
	in, err := decode[endRoundManualIn](env)
	if err != nil {
		c.ack(env, nil, err)
		return
	}
	eng, err := c.engineFor(ctx, in.Code)
	if err != nil {
		c.ack(env, nil, err)
		return
	}
	_, err = eng.EndRoundManual(ctx, c.connHandle)
	c.ack(env, nil, err)
}

func (c *Client) onHostVerifyGuess(ctx context.Context, env inboundEnvelope) {
	in, err := decode[hostVerifyGuessIn](env)
	if err != nil {
		c.ack(env, nil, err)
		return
	}
	eng, err := c.engineFor(ctx, in.Code)
	if err != nil {
		c.ack(env, nil, err)
		return
	}
	result, err := eng.HostVerifyGuess(c.connHandle, in.Artist, in.Title)
	c.ack(env, result, err)
}

func (c *Client) onPauseRound(ctx context.Context, env inboundEnvelope) {
	in, err := decode[pauseRoundIn](env)
	if err != nil {
		c.ack(env, nil, err)
		return
	}
	eng, err := c.engineFor(ctx, in.Code)
	if err != nil {
		c.ack(env, nil, err)
		return
	}
	_, err = eng.PauseRound(ctx, c.connHandle)
	c.ack(env, nil, err)
}

func (c *Client) onResumeRound(ctx context.Context, env inboundEnvelope) {
	in, err := decode[resumeRoundIn](env)
	if err != nil {
		c.ack(env, nil, err)
		return
	}
	eng, err := c.engineFor(ctx, in.Code)
	if err != nil {
		c.ack(env, nil, err)
		return
	}
	_, err = eng.ResumeRound(ctx, c.connHandle)
	c.ack(env, nil, err)
}

func (c *Client) onKickPlayer(ctx context.Context, env inboundEnvelope) {
	in, err := decode[kickPlayerIn](env)
	if err != nil {
		c.ack(env, nil, err)
		return
	}
	eng, err := c.engineFor(ctx, in.Code)
	if err != nil {
		c.ack(env, nil, err)
		return
	}
	_, err = eng.KickPlayer(ctx, c.connHandle, in.TargetConnHandle)
	if err == nil {
		c.gw.untrackMembership(in.Code, in.TargetConnHandle)
	}
	c.ack(env, nil, err)
}
