// Package gateway is the connection-oriented heart of the server: it owns every WebSocket connection, the per-process
// Window Sets and subscription table, and the broker consume loop that fans topic frames out to local subscribers
// through the privacy filter.
package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/devpulse/devpulse-server/internal/channel"
	"github.com/devpulse/devpulse-server/internal/config"
	"github.com/devpulse/devpulse-server/internal/identity"
	"github.com/devpulse/devpulse-server/internal/prefs"
	"github.com/devpulse/devpulse-server/internal/presence"
	"github.com/devpulse/devpulse-server/internal/privacy"
	"github.com/devpulse/devpulse-server/internal/protocol"
	"github.com/devpulse/devpulse-server/internal/user"
)

// opTimeout bounds State Store and broker work triggered by a single inbound frame.
const opTimeout = 5 * time.Second

// targetTTL is how long a target's graph and preferences are served from the in-memory egress cache before the State
// Store is consulted again. Preference changes made on this process invalidate the entry immediately; changes made on
// another replica take effect within this window.
const targetTTL = 5 * time.Second

// Hub owns all local connections, their Window Sets, and the broker consume loop.
type Hub struct {
	cfg *config.Config
	log zerolog.Logger

	users    user.Repository
	prefs    prefs.Repository
	channels channel.Repository
	identity identity.Adapter

	cache     *presence.Store
	resumes   *ResumeStore
	publisher *Publisher
	sub       *redis.PubSub
	subs      *subscriptionTable
	sanitizer *bluemonday.Policy

	mu      sync.RWMutex
	clients map[*Client]struct{}
	windows map[string]map[*Client]struct{}

	windowSeq atomic.Uint64

	targetMu sync.Mutex
	targets  map[string]*targetEntry

	expiries *expiryQueue
}

// targetEntry caches a target user's graph and preferences for egress filtering. A nil user marks a guest target,
// visible to everyone and with nothing to redact.
type targetEntry struct {
	user      *user.User
	prefs     prefs.Preferences
	fetchedAt time.Time
}

// NewHub creates the gateway hub. The single subscriber handle for the process is opened here; topics are attached to
// it by the subscription table as clients log in.
func NewHub(
	cfg *config.Config,
	rdb *redis.Client,
	users user.Repository,
	prefsRepo prefs.Repository,
	channels channel.Repository,
	adapter identity.Adapter,
	cache *presence.Store,
	logger zerolog.Logger,
) *Hub {
	log := logger.With().Str("component", "gateway").Logger()
	sub := rdb.Subscribe(context.Background())
	return &Hub{
		cfg:       cfg,
		log:       log,
		users:     users,
		prefs:     prefsRepo,
		channels:  channels,
		identity:  adapter,
		cache:     cache,
		resumes:   NewResumeStore(rdb, cfg.ResumeTTL),
		publisher: NewPublisher(rdb, log),
		sub:       sub,
		subs:      newSubscriptionTable(sub, log),
		sanitizer: bluemonday.StrictPolicy(),
		clients:   make(map[*Client]struct{}),
		windows:   make(map[string]map[*Client]struct{}),
		targets:   make(map[string]*targetEntry),
		expiries:  newExpiryQueue(),
	}
}

// Run consumes the broker subscription and fans frames out to local subscribers. It blocks until the context is
// cancelled or the subscription closes.
func (h *Hub) Run(ctx context.Context) error {
	ch := h.sub.Channel()
	h.log.Info().Msg("Gateway hub consuming broker topics")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			h.fanOut(ctx, msg.Channel, []byte(msg.Payload))
		}
	}
}

// ServeWebSocket starts the pumps for an upgraded connection. It blocks until the read pump exits.
func (h *Hub) ServeWebSocket(conn *websocket.Conn) {
	client := newClient(h, conn, h.log)
	go client.writePump()
	client.readPump()
}

// ClientCount returns the number of admitted connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// fanOut delivers one topic frame to every admitted local subscriber that passes the privacy filter. Redaction
// produces a single re-encoded frame shared by all non-self recipients; the sender's own windows receive the
// original.
func (h *Hub) fanOut(ctx context.Context, topic string, payload []byte) {
	subscribers := h.subs.subscribers(topic)
	if len(subscribers) == 0 {
		return
	}

	m, err := protocol.DecodeTopicMessage(payload)
	if err != nil {
		h.log.Warn().Err(err).Str("topic", topic).Msg("Undecodable topic frame")
		return
	}

	target := m.ID
	filtered := m.UserScoped() && m.T != "x"
	redactable := m.T == "u" || m.T == "o" || m.T == "cu"

	var entry *targetEntry
	if target != "" && (filtered || redactable) {
		entry, err = h.lookupTarget(ctx, target)
		if err != nil {
			h.log.Warn().Err(err).Str("target", target).Msg("Target lookup failed during fan-out")
			return
		}
	}

	outbound := payload
	if redactable && entry != nil && entry.user != nil {
		privacy.Redact(m, entry.prefs)
		if outbound, err = m.Encode(); err != nil {
			h.log.Warn().Err(err).Msg("Failed to re-encode redacted frame")
			return
		}
	}

	for _, c := range subscribers {
		if !c.IsAuthed() {
			continue
		}
		if c.Username() == target {
			c.enqueue(payload)
			continue
		}
		if filtered && entry != nil && entry.user != nil && !privacy.Allowed(c.viewer(), entry.user, entry.prefs) {
			continue
		}
		c.enqueue(outbound)
	}
}

// lookupTarget returns the egress-cache entry for a username, consulting the State Store on a miss or after the
// cache TTL. Unknown usernames are guests: nil user, default preferences.
func (h *Hub) lookupTarget(ctx context.Context, username string) (*targetEntry, error) {
	h.targetMu.Lock()
	if e, ok := h.targets[username]; ok && time.Since(e.fetchedAt) < targetTTL {
		h.targetMu.Unlock()
		return e, nil
	}
	h.targetMu.Unlock()

	u, err := h.users.GetByUsername(ctx, username)
	if err != nil && !errors.Is(err, user.ErrNotFound) {
		return nil, err
	}

	e := &targetEntry{user: u, fetchedAt: time.Now()}
	if u != nil {
		p, err := h.prefs.Get(ctx, u.GithubID)
		if err != nil {
			return nil, err
		}
		e.prefs = p
	}

	h.targetMu.Lock()
	h.targets[username] = e
	h.targetMu.Unlock()
	return e, nil
}

// invalidateTarget drops a username's egress-cache entry, forcing a State Store read on the next frame.
func (h *Hub) invalidateTarget(username string) {
	h.targetMu.Lock()
	delete(h.targets, username)
	h.targetMu.Unlock()
}

// handleLogin resolves a login frame in the order resume, access token, guest.
func (h *Hub) handleLogin(c *Client, m protocol.Login) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*opTimeout)
	defer cancel()

	if m.ResumeToken != "" {
		rec, err := h.resumes.Claim(ctx, m.ResumeToken, m.Username)
		if err == nil {
			h.admit(ctx, c, rec.Username, rec.GithubID, false)
			return
		}
		if !errors.Is(err, ErrResumeNotFound) {
			h.log.Warn().Err(err).Msg("Resume claim failed")
		}
		// Expired or foreign token: fall through to the remaining resolution paths.
	}

	if m.Token != "" {
		profile, err := h.identity.Fetch(ctx, m.Token)
		switch {
		case err == nil:
			u, uErr := h.users.Upsert(ctx, user.UpsertParams{
				GithubID:  profile.GithubID,
				Username:  profile.Username,
				AvatarURL: profile.AvatarURL,
				Followers: profile.Followers,
				Following: profile.Following,
			})
			if uErr != nil {
				h.log.Error().Err(uErr).Msg("User upsert failed at login")
				c.sendLoginError("internal error")
				return
			}
			h.invalidateTarget(u.Username)
			h.admit(ctx, c, u.Username, u.GithubID, true)
		case errors.Is(err, identity.ErrUnavailable):
			// Provider down: the token could not be verified, so nobody gets admitted on its strength. A recently
			// dropped client still has its resume window.
			h.log.Warn().Str("username", m.Username).Msg("Identity provider unavailable, rejecting token login")
			c.sendLoginError("identity provider unavailable")
		default:
			c.sendLoginError("invalid access token")
		}
		return
	}

	// Guest login. The username is reusable once no live connection holds it.
	if h.usernameLive(m.Username) {
		c.sendLoginError("username in use")
		return
	}
	if err := h.users.RegisterGuest(ctx, m.Username); err != nil {
		h.log.Error().Err(err).Msg("Guest registration failed")
		c.sendLoginError("internal error")
		return
	}
	h.admit(ctx, c, m.Username, 0, true)
}

// usernameLive reports whether any admitted connection is bound to the username.
func (h *Hub) usernameLive(username string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.windows[username]) > 0
}

// admit completes a successful login: mint a resume token, install connection state, register the window, build the
// subscription set, and emit loginSuccess, the initial sync, and (for fresh logins) the online event.
func (h *Hub) admit(ctx context.Context, c *Client, username string, githubID int64, fresh bool) {
	var u *user.User
	if githubID != 0 {
		var err error
		if u, err = h.users.GetByID(ctx, githubID); err != nil {
			h.log.Error().Err(err).Int64("github_id", githubID).Msg("User load failed at admission")
			c.sendLoginError("internal error")
			return
		}
	}

	token, err := h.resumes.Mint(ctx, username, githubID)
	if err != nil {
		h.log.Error().Err(err).Msg("Resume mint failed")
		c.sendLoginError("internal error")
		return
	}

	h.mu.Lock()
	if len(h.clients) >= h.cfg.GatewayMaxConnections {
		h.mu.Unlock()
		c.sendLoginError("server full")
		return
	}
	h.clients[c] = struct{}{}
	set, ok := h.windows[username]
	if !ok {
		set = make(map[*Client]struct{})
		h.windows[username] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()

	avatar := ""
	if u != nil {
		avatar = u.AvatarURL
	}
	c.mu.Lock()
	c.username = username
	c.githubID = githubID
	c.guest = githubID == 0
	c.avatar = avatar
	c.authed = true
	c.resumeToken = token
	c.seq = h.windowSeq.Add(1)
	c.status = protocol.StatusOnline
	c.activity = protocol.ActivityIdle
	c.project = ""
	c.language = ""
	c.customStatus = ""
	c.mu.Unlock()

	// Subscription set: one presence topic per friend, one channel topic per membership.
	var friendNames []string
	var followers, following []string
	var topics []string
	if u != nil {
		names, err := h.users.ResolveUsernames(ctx, u.FriendSet())
		if err != nil {
			h.log.Error().Err(err).Msg("Friend resolution failed at admission")
			c.sendLoginError("internal error")
			h.evict(c)
			return
		}
		for _, name := range names {
			friendNames = append(friendNames, name)
			topics = append(topics, presenceTopic(name))
		}
		for _, id := range u.Followers {
			if name, ok := names[id]; ok {
				followers = append(followers, name)
			}
		}
		for _, id := range u.Following {
			if name, ok := names[id]; ok {
				following = append(following, name)
			}
		}

		chs, err := h.channels.ChannelsOf(ctx, githubID)
		if err != nil {
			h.log.Error().Err(err).Msg("Channel list failed at admission")
			c.sendLoginError("internal error")
			h.evict(c)
			return
		}
		for _, ch := range chs {
			id := ch.ID.String()
			c.addChannel(id)
			topics = append(topics, channelTopic(id))
		}
	}
	if err := h.subs.add(ctx, c, topics...); err != nil {
		h.log.Error().Err(err).Msg("Topic subscribe failed at admission")
		c.sendLoginError("internal error")
		h.evict(c)
		return
	}

	var idPtr *int64
	if githubID != 0 {
		idPtr = &githubID
	}
	if frame, err := protocol.NewLoginSuccess(token, idPtr, followers, following); err == nil {
		c.enqueue(frame)
	}

	h.sendInitialSync(ctx, c, friendNames)

	if fresh {
		snap := c.snapshot()
		if err := h.cache.Set(ctx, username, snap); err != nil {
			h.log.Warn().Err(err).Msg("Status cache write failed at login")
		}
		frame, err := protocol.NewOnline(username, avatar, snap.Status, snap.Activity, snap.Project, snap.Language)
		if err == nil {
			if err := h.publisher.Publish(ctx, presenceTopic(username), frame); err != nil {
				h.log.Warn().Err(err).Msg("Online publish failed")
			}
		}
	}

	h.log.Info().Str("username", username).Bool("guest", githubID == 0).Bool("fresh", fresh).
		Int("total", h.ClientCount()).Msg("Connection admitted")
}

// evict rolls back a partially admitted connection after a failure between registration and subscription.
func (h *Hub) evict(c *Client) {
	username := c.Username()
	h.mu.Lock()
	delete(h.clients, c)
	if set, ok := h.windows[username]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.windows, username)
		}
	}
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	h.subs.removeAll(ctx, c)

	c.mu.Lock()
	c.authed = false
	c.mu.Unlock()
}

// sendInitialSync emits this replica's view of the viewer's friends: every friend with a local Window Set, aggregated
// across windows, passed through the privacy filter and share-flag redaction.
func (h *Hub) sendInitialSync(ctx context.Context, c *Client, friendNames []string) {
	viewer := c.viewer()
	var users []protocol.CompactUser

	for _, name := range friendNames {
		windows := h.localWindows(name)
		if len(windows) == 0 {
			continue
		}

		entry, err := h.lookupTarget(ctx, name)
		if err != nil {
			h.log.Warn().Err(err).Str("target", name).Msg("Target lookup failed during initial sync")
			continue
		}
		if entry.user != nil && !privacy.Allowed(viewer, entry.user, entry.prefs) {
			continue
		}

		agg, ok := presence.Aggregate(windowStates(windows))
		if !ok {
			continue
		}
		cu := protocol.CompactUser{
			ID:       name,
			Status:   agg.Status,
			Activity: agg.Activity,
			Project:  agg.Project,
			Language: agg.Language,
		}
		if entry.user != nil {
			cu.Avatar = entry.user.AvatarURL
			privacy.RedactCompact(&cu, entry.prefs)
		}
		users = append(users, cu)
	}

	if frame, err := protocol.NewSync(users); err == nil {
		c.enqueue(frame)
	}
}

// localWindows returns a snapshot of the username's local Window Set.
func (h *Hub) localWindows(username string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	set := h.windows[username]
	if len(set) == 0 {
		return nil
	}
	out := make([]*Client, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

func windowStates(clients []*Client) []presence.Window {
	out := make([]presence.Window, len(clients))
	for i, c := range clients {
		out[i] = c.window()
	}
	return out
}

// disconnect tears a connection down: drop it from its Window Set, release subscriptions, refresh the resume window,
// and schedule the offline event if this was the last window.
func (h *Hub) disconnect(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		c.closeSend()
		return
	}
	delete(h.clients, c)

	username := c.Username()
	githubID, guest := c.identity()
	lastWindow := false
	if set, ok := h.windows[username]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.windows, username)
			lastWindow = true
		}
	}
	h.mu.Unlock()

	c.closeSend()

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	h.subs.removeAll(ctx, c)

	if !c.IsAuthed() {
		return
	}

	if err := h.resumes.Refresh(ctx, c.resumeTokenValue()); err != nil {
		h.log.Warn().Err(err).Msg("Resume refresh failed on disconnect")
	}

	// The connection no longer represents a live window. Pending sweep work keyed on it, like a custom-status
	// expiry, must not publish or touch the status cache once the window is gone.
	c.mu.Lock()
	c.authed = false
	c.mu.Unlock()

	if lastWindow {
		go h.delayedOffline(username, githubID, guest)
	}

	h.log.Debug().Str("username", username).Bool("last_window", lastWindow).Msg("Connection closed")
}

// delayedOffline waits one resume window and then, if the user has not reconnected, publishes the offline event and
// persists last-seen. The delay is what keeps brief disconnects invisible to subscribers.
func (h *Hub) delayedOffline(username string, githubID int64, guest bool) {
	time.Sleep(h.cfg.ResumeTTL)

	if h.usernameLive(username) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	now := time.Now().UnixMilli()
	if frame, err := protocol.NewOffline(username, now); err == nil {
		if err := h.publisher.Publish(ctx, presenceTopic(username), frame); err != nil {
			h.log.Warn().Err(err).Str("username", username).Msg("Offline publish failed")
		}
	}
	if !guest {
		if err := h.users.SetLastSeen(ctx, githubID, now); err != nil {
			h.log.Warn().Err(err).Str("username", username).Msg("Last-seen persist failed")
		}
	}
}

// Shutdown closes every connection with the shutdown close code.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*Client]struct{})
	h.windows = make(map[string]map[*Client]struct{})
	h.mu.Unlock()

	msg := websocket.FormatCloseMessage(CloseServerShutdown, "server shutting down")
	for _, c := range clients {
		c.closeSend()
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = c.conn.Close()
	}
	_ = h.sub.Close()
	h.log.Info().Int("closed", len(clients)).Msg("Gateway hub shut down")
}
