// Package lavalink provides a client for a Lavalink v4 audio node.
//
// The node owns the actual audio streaming; this client only issues
// player commands over REST and receives events (ready, track end) over
// the node's websocket.
package lavalink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	zlog "github.com/rs/zerolog/log"

	"github.com/DancingPumpkin65/ai-discord-bot/internal/domain/track"
)

const (
	handshakeTimeout = 10 * time.Second
	requestTimeout   = 10 * time.Second
	reconnectDelay   = 5 * time.Second
	clientName       = "ai-discord-bot/1.0"
)

// Config holds the node connection settings.
type Config struct {
	Host     string
	Port     int
	Password string
	Secure   bool
	UserID   string // Bot user ID, required by the node handshake
}

// TrackEndHandler receives track end events. The reason is the node's
// raw reason code; classification happens upstream.
type TrackEndHandler func(guildID, reason string)

// Client is a single-node Lavalink client.
type Client struct {
	cfg  Config
	http *http.Client

	mu           sync.Mutex
	conn         *websocket.Conn
	connected    bool
	reconnecting bool
	closed       bool
	sessionID    string
	voice        map[string]*voiceState

	onTrackEnd TrackEndHandler
}

// voiceState accumulates the two halves of the platform voice
// handshake until both are known and the player can be updated.
type voiceState struct {
	token     string
	endpoint  string
	sessionID string
}

// New creates a node client. Connect must be called before use.
func New(cfg Config) *Client {
	return &Client{
		cfg:   cfg,
		http:  &http.Client{Timeout: requestTimeout},
		voice: make(map[string]*voiceState),
	}
}

// OnTrackEnd registers the track end handler. Must be called before
// Connect.
func (c *Client) OnTrackEnd(fn TrackEndHandler) {
	c.onTrackEnd = fn
}

// SetUserID sets the bot user ID the node handshake requires. Must be
// called before Connect; the ID is only known once the gateway session
// is open.
func (c *Client) SetUserID(userID string) {
	c.mu.Lock()
	c.cfg.UserID = userID
	c.mu.Unlock()
}

// Connect establishes the websocket session with the node and starts
// the read loop. Connection loss triggers automatic reconnects until
// Close is called.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.connected || c.reconnecting {
		c.mu.Unlock()
		return nil
	}
	c.reconnecting = true
	c.mu.Unlock()

	return c.dial()
}

func (c *Client) dial() error {
	headers := http.Header{}
	headers.Set("Authorization", c.cfg.Password)
	headers.Set("User-Id", c.cfg.UserID)
	headers.Set("Client-Name", clientName)

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.Dial(c.wsURL(), headers)
	if err != nil {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
		return errors.Wrapf(err, "failed to connect to lavalink node %s:%d", c.cfg.Host, c.cfg.Port)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.reconnecting = false
	c.mu.Unlock()

	zlog.Info().Msgf("lavalink: connected to node %s:%d", c.cfg.Host, c.cfg.Port)

	go c.readLoop(conn)
	return nil
}

// Close shuts the websocket down and stops reconnecting.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.connected = false
	c.mu.Unlock()
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(err)
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			zlog.Debug().Msgf("lavalink: discarding malformed message: %v", err)
			continue
		}
		c.handleMessage(msg)
	}
}

func (c *Client) handleMessage(msg wsMessage) {
	switch msg.Op {
	case "ready":
		c.mu.Lock()
		c.sessionID = msg.SessionID
		c.mu.Unlock()
		zlog.Info().Msgf("lavalink: node ready: session=%s resumed=%v", msg.SessionID, msg.Resumed)
	case "playerUpdate":
		// Position updates are not tracked; playback progress is not
		// surfaced anywhere.
	case "stats":
	case "event":
		c.handleEvent(msg)
	}
}

func (c *Client) handleEvent(msg wsMessage) {
	switch msg.Type {
	case "TrackEndEvent":
		zlog.Debug().Msgf("lavalink: track end: guild=%s reason=%s", msg.GuildID, msg.Reason)
		if c.onTrackEnd != nil {
			c.onTrackEnd(msg.GuildID, msg.Reason)
		}
	case "TrackExceptionEvent":
		zlog.Warn().Msgf("lavalink: track exception: guild=%s message=%s", msg.GuildID, msg.Exception.Message)
	case "TrackStuckEvent":
		zlog.Warn().Msgf("lavalink: track stuck: guild=%s", msg.GuildID)
	case "WebSocketClosedEvent":
		zlog.Warn().Msgf("lavalink: voice websocket closed: guild=%s code=%d", msg.GuildID, msg.Code)
	}
}

func (c *Client) handleDisconnect(cause error) {
	c.mu.Lock()
	c.connected = false
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return
	}

	zlog.Warn().Msgf("lavalink: node connection lost, reconnecting in %v: %v", reconnectDelay, cause)
	time.Sleep(reconnectDelay)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	c.mu.Unlock()

	if err := c.dial(); err != nil {
		zlog.Error().Msgf("lavalink: reconnect failed: %v", err)
		go c.handleDisconnect(err)
	}
}

// SearchTracks resolves free text through the node's search source and
// returns the matches in ranked order.
func (c *Client) SearchTracks(ctx context.Context, query string) ([]track.Info, error) {
	return c.loadTracks(ctx, "ytsearch:"+query)
}

// LoadURL resolves a direct media URL through the node.
func (c *Client) LoadURL(ctx context.Context, url string) ([]track.Info, error) {
	return c.loadTracks(ctx, url)
}

func (c *Client) loadTracks(ctx context.Context, identifier string) ([]track.Info, error) {
	endpoint := fmt.Sprintf("%s/v4/loadtracks?identifier=%s", c.restURL(), urlQueryEscape(identifier))

	body, err := c.restRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	result, err := decodeLoadResult(body)
	if err != nil {
		return nil, err
	}

	switch result.LoadType {
	case loadTypeError:
		return nil, errors.Newf("node failed to load %q: %s", identifier, result.Error.Message)
	case loadTypeEmpty:
		return nil, nil
	default:
		return result.Tracks, nil
	}
}

// Play instructs the node to start playback of an encoded track on the
// guild's player, replacing whatever is currently playing.
func (c *Client) Play(ctx context.Context, guildID string, encoded string) error {
	return c.updatePlayer(ctx, guildID, map[string]any{"encodedTrack": encoded})
}

// Stop halts the guild's player without destroying it.
func (c *Client) Stop(ctx context.Context, guildID string) error {
	return c.updatePlayer(ctx, guildID, map[string]any{"encodedTrack": nil})
}

// Pause pauses or resumes the guild's player.
func (c *Client) Pause(ctx context.Context, guildID string, paused bool) error {
	return c.updatePlayer(ctx, guildID, map[string]any{"paused": paused})
}

// SetVolume sets the guild's player volume in percent.
func (c *Client) SetVolume(ctx context.Context, guildID string, percent int) error {
	return c.updatePlayer(ctx, guildID, map[string]any{"volume": percent})
}

// Disconnect destroys the guild's player on the node. Leaving the
// voice channel itself is the delivery layer's job; the node only
// stops streaming.
func (c *Client) Disconnect(ctx context.Context, guildID string) error {
	sessionID, err := c.session()
	if err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.voice, guildID)
	c.mu.Unlock()

	endpoint := fmt.Sprintf("%s/v4/sessions/%s/players/%s", c.restURL(), sessionID, guildID)
	_, err = c.restRequest(ctx, http.MethodDelete, endpoint, nil)
	return err
}

// HandleVoiceServerUpdate feeds the platform's voice server payload to
// the node. Called by the delivery layer on the corresponding gateway
// event.
func (c *Client) HandleVoiceServerUpdate(guildID, token, endpoint string) {
	c.mu.Lock()
	vs := c.voiceFor(guildID)
	vs.token = token
	vs.endpoint = endpoint
	ready := vs.complete()
	snapshot := *vs
	c.mu.Unlock()

	if ready {
		c.pushVoiceState(guildID, snapshot)
	}
}

// HandleVoiceStateUpdate feeds the bot's own voice session ID to the
// node. An empty channel ID means the bot left the channel.
func (c *Client) HandleVoiceStateUpdate(guildID, sessionID, channelID string) {
	c.mu.Lock()
	if channelID == "" {
		delete(c.voice, guildID)
		c.mu.Unlock()
		return
	}
	vs := c.voiceFor(guildID)
	vs.sessionID = sessionID
	ready := vs.complete()
	snapshot := *vs
	c.mu.Unlock()

	if ready {
		c.pushVoiceState(guildID, snapshot)
	}
}

// voiceFor must be called with the lock held.
func (c *Client) voiceFor(guildID string) *voiceState {
	vs, ok := c.voice[guildID]
	if !ok {
		vs = &voiceState{}
		c.voice[guildID] = vs
	}
	return vs
}

func (vs *voiceState) complete() bool {
	return vs.token != "" && vs.endpoint != "" && vs.sessionID != ""
}

func (c *Client) pushVoiceState(guildID string, vs voiceState) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	err := c.updatePlayer(ctx, guildID, map[string]any{
		"voice": map[string]string{
			"token":     vs.token,
			"endpoint":  vs.endpoint,
			"sessionId": vs.sessionID,
		},
	})
	if err != nil {
		zlog.Error().Msgf("lavalink: failed to push voice state: guild=%s error=%v", guildID, err)
	}
}

func (c *Client) updatePlayer(ctx context.Context, guildID string, fields map[string]any) error {
	sessionID, err := c.session()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(fields)
	if err != nil {
		return errors.Wrap(err, "failed to encode player update")
	}

	endpoint := fmt.Sprintf("%s/v4/sessions/%s/players/%s?noReplace=false", c.restURL(), sessionID, guildID)
	_, err = c.restRequest(ctx, http.MethodPatch, endpoint, payload)
	return err
}

func (c *Client) session() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected || c.sessionID == "" {
		return "", errors.New("lavalink node is not connected")
	}
	return c.sessionID, nil
}

func (c *Client) restRequest(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build node request")
	}
	req.Header.Set("Authorization", c.cfg.Password)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "node request failed")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read node response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Newf("node returned %d: %s", resp.StatusCode, string(data))
	}
	return data, nil
}

func (c *Client) wsURL() string {
	scheme := "ws"
	if c.cfg.Secure {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s:%d/v4/websocket", scheme, c.cfg.Host, c.cfg.Port)
}

func (c *Client) restURL() string {
	scheme := "http"
	if c.cfg.Secure {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.cfg.Host, c.cfg.Port)
}
