package gateway

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/rs/zerolog"

	"github.com/devpulse/devpulse-server/internal/presence"
	"github.com/devpulse/devpulse-server/internal/privacy"
	"github.com/devpulse/devpulse-server/internal/protocol"
)

const (
	// maxMessageSize is the maximum size in bytes of a single inbound WebSocket message.
	maxMessageSize = 4096

	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// loginTimeout is how long a connection may stay unauthenticated before it is closed.
	loginTimeout = 30 * time.Second
)

// Client is one WebSocket connection. Inbound frames are processed to completion one at a time by the read pump, so
// connection-local presence state needs no internal locking on the ingress path; the mutex exists because the hub
// reads that state from other goroutines for rosters, initial syncs, and the liveness sweep.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	log  zerolog.Logger

	mu          sync.RWMutex
	username    string
	githubID    int64 // zero for guests
	guest       bool
	avatar      string
	authed      bool
	resumeToken string
	seq         uint64 // window ordering for aggregation tie-breaks

	status       string
	activity     string
	project      string
	language     string
	customStatus string // raw JSON of the current custom status, empty when unset
	csGen        uint64 // bumped on every custom-status change; stale expiry heap entries compare against it

	// channels is the set of channel ids the user belongs to, kept current by login, join, and leave. The liveness
	// sweep reads it through channelIDs when it publishes a delta, so it shares the connection mutex.
	channels map[string]struct{}

	lastLiveness atomic.Int64 // unix milli, any inbound frame
	lastActivity atomic.Int64 // unix milli, frames that represent user activity (everything but hb)

	// Debounce state, read pump only.
	frameCount  int
	windowStart time.Time
}

func newClient(hub *Hub, conn *websocket.Conn, logger zerolog.Logger) *Client {
	c := &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, 256),
		channels: make(map[string]struct{}),
		log:      logger,
	}
	now := time.Now().UnixMilli()
	c.lastLiveness.Store(now)
	c.lastActivity.Store(now)
	return c
}

// Username returns the bound username, empty until login succeeds.
func (c *Client) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}

// IsAuthed returns whether the connection has completed login.
func (c *Client) IsAuthed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authed
}

// IsGuest returns whether the connection is bound to a guest username.
func (c *Client) IsGuest() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.guest
}

// identity returns the bound identity-id and whether the connection is a guest.
func (c *Client) identity() (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.githubID, c.guest
}

// resumeTokenValue returns the resume token minted at login.
func (c *Client) resumeTokenValue() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.resumeToken
}

// viewer returns the privacy vantage of this connection.
func (c *Client) viewer() privacy.Viewer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return privacy.Viewer{GithubID: c.githubID, Guest: c.guest}
}

// window returns the connection's state as an aggregation input.
func (c *Client) window() presence.Window {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return presence.Window{
		Seq:      c.seq,
		Status:   c.status,
		Activity: c.activity,
		Project:  c.project,
		Language: c.language,
	}
}

// snapshot returns the union of all presence fields for a status-cache write.
func (c *Client) snapshot() presence.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return presence.State{
		Status:       c.status,
		Activity:     c.activity,
		Project:      c.project,
		Language:     c.language,
		CustomStatus: c.customStatus,
		LastSeenMS:   time.Now().UnixMilli(),
	}
}

// applyUpdate diffs an inbound status update against the connection state, mutates the changed fields, and returns
// the delta. An update on an Away window recovers it to Online even when the client did not set the status
// explicitly.
func (c *Client) applyUpdate(m protocol.StatusUpdate) protocol.Delta {
	c.mu.Lock()
	defer c.mu.Unlock()

	var d protocol.Delta
	if m.Status != nil && *m.Status != c.status {
		c.status = *m.Status
		d.Status = m.Status
	}
	if m.Activity != nil && *m.Activity != c.activity {
		c.activity = *m.Activity
		d.Activity = m.Activity
	}
	if m.Project != nil && *m.Project != c.project {
		c.project = *m.Project
		d.Project = m.Project
	}
	if m.Language != nil && *m.Language != c.language {
		c.language = *m.Language
		d.Language = m.Language
	}

	if m.Status == nil && c.status == protocol.StatusAway && !d.Empty() {
		online := protocol.StatusOnline
		c.status = online
		d.Status = &online
	}
	return d
}

// forceAway transitions an Online window to Away/Idle. Returns an empty delta when the window is not Online.
func (c *Client) forceAway() protocol.Delta {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != protocol.StatusOnline {
		return protocol.Delta{}
	}
	away, idle := protocol.StatusAway, protocol.ActivityIdle
	c.status = away
	var d protocol.Delta
	d.Status = &away
	if c.activity != idle {
		c.activity = idle
		d.Activity = &idle
	}
	return d
}

// setCustom installs a custom status and returns the generation guarding its expiry.
func (c *Client) setCustom(raw string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.customStatus = raw
	c.csGen++
	return c.csGen
}

// clearCustom removes the custom status. Returns false when none was set.
func (c *Client) clearCustom() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.customStatus == "" {
		return false
	}
	c.customStatus = ""
	c.csGen++
	return true
}

// clearCustomIfGen removes the custom status only if the generation still matches, so a stale expiry cannot clear a
// status set after it.
func (c *Client) clearCustomIfGen(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.csGen != gen || c.customStatus == "" {
		return false
	}
	c.customStatus = ""
	c.csGen++
	return true
}

// compact renders the connection's state as a compact user record.
func (c *Client) compact() protocol.CompactUser {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return protocol.CompactUser{
		ID:       c.username,
		Avatar:   c.avatar,
		Status:   c.status,
		Activity: c.activity,
		Project:  c.project,
		Language: c.language,
	}
}

func (c *Client) addChannel(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[id] = struct{}{}
}

func (c *Client) removeChannel(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.channels, id)
}

// channelIDs returns a snapshot of the channels the user belongs to, for delta fan-out.
func (c *Client) channelIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.channels))
	for id := range c.channels {
		out = append(out, id)
	}
	return out
}

// readPump reads frames from the connection and routes them through the codec. It runs in the connection's own
// goroutine and drives the disconnect path when the read loop exits.
func (c *Client) readPump() {
	defer func() {
		c.hub.disconnect(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	// Backstop deadline; the liveness sweep closes silent connections well before this fires.
	deadline := 3 * c.hub.cfg.HeartbeatInterval
	_ = c.conn.SetReadDeadline(time.Now().Add(deadline))

	loginTimer := time.AfterFunc(loginTimeout, func() {
		if !c.IsAuthed() {
			c.log.Debug().Msg("Connection did not log in in time")
			c.closeWithCode(CloseNotAuthenticated, "login timeout")
		}
	})
	defer loginTimer.Stop()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Msg("WebSocket read error")
			}
			return
		}

		now := time.Now()
		c.lastLiveness.Store(now.UnixMilli())
		_ = c.conn.SetReadDeadline(now.Add(deadline))

		if c.debounced(now) {
			c.closeWithCode(CloseRateLimited, "message rate exceeded")
			return
		}

		msg, err := protocol.DecodeClient(message)
		if err != nil {
			c.sendError("invalid frame", CodeInvalidFrame)
			continue
		}

		if _, ok := msg.(protocol.Heartbeat); !ok {
			c.lastActivity.Store(now.UnixMilli())
		}

		c.route(msg)
	}
}

// route dispatches one decoded frame. Only login and heartbeat are allowed before authentication.
func (c *Client) route(msg protocol.ClientMessage) {
	switch m := msg.(type) {
	case protocol.Login:
		if c.IsAuthed() {
			c.sendError("already logged in", CodeAuthFailure)
			return
		}
		c.hub.handleLogin(c, m)
		return
	case protocol.Heartbeat:
		if frame, err := protocol.NewHeartbeat(); err == nil {
			c.enqueue(frame)
		}
		return
	}

	if !c.IsAuthed() {
		c.closeWithCode(CloseNotAuthenticated, "login required")
		return
	}

	switch m := msg.(type) {
	case protocol.StatusUpdate:
		c.hub.handleStatusUpdate(c, m)
	case protocol.PrefsUpdate:
		c.hub.handlePrefsUpdate(c, m)
	case protocol.SetCustomStatus:
		c.hub.handleSetCustomStatus(c, m)
	case protocol.ClearCustomStatus:
		c.hub.handleClearCustomStatus(c)
	case protocol.ChannelCreate:
		c.hub.handleChannelCreate(c, m)
	case protocol.ChannelJoin:
		c.hub.handleChannelJoin(c, m)
	case protocol.ChannelLeave:
		c.hub.handleChannelLeave(c, m)
	case protocol.ChannelChat:
		c.hub.handleChannelChat(c, m)
	}
}

// writePump writes frames from the send channel to the connection. It exits when the send channel is closed.
func (c *Client) writePump() {
	defer func() { _ = c.conn.Close() }()

	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.log.Debug().Err(err).Msg("WebSocket write error")
			return
		}
	}
}

// enqueue hands a frame to the write pump. A full send buffer closes the connection so a stalled client cannot
// backpressure the hub.
func (c *Client) enqueue(msg []byte) {
	select {
	case c.send <- msg:
	default:
		c.log.Warn().Str("username", c.Username()).Msg("Client send buffer full, closing connection")
		_ = c.conn.Close()
	}
}

// sendError sends an error frame without terminating the connection.
func (c *Client) sendError(message, code string) {
	if frame, err := protocol.NewError(message, code); err == nil {
		c.enqueue(frame)
	}
}

// sendLoginError sends a loginError frame. The connection is kept open so the client may retry until the login timer
// fires.
func (c *Client) sendLoginError(reason string) {
	if frame, err := protocol.NewLoginError(reason); err == nil {
		c.enqueue(frame)
	}
}

// closeWithCode sends a close frame with the given code and reason, then closes the underlying connection.
func (c *Client) closeWithCode(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = c.conn.Close()
}

// closeSend closes the send channel, terminating the write pump. Only the hub's disconnect path calls this.
func (c *Client) closeSend() {
	defer func() { _ = recover() }()
	close(c.send)
}

// debounced reports whether the connection exceeded the coarse per-connection frame budget.
func (c *Client) debounced(now time.Time) bool {
	if now.Sub(c.windowStart) > c.hub.cfg.DebounceWindow {
		c.frameCount = 0
		c.windowStart = now
	}
	c.frameCount++
	return c.frameCount > c.hub.cfg.DebounceFrames
}

// rawCustomStatus returns the current custom status JSON, or nil when unset.
func (c *Client) rawCustomStatus() json.RawMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.customStatus == "" {
		return nil
	}
	return json.RawMessage(c.customStatus)
}
