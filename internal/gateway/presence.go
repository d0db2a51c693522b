package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/devpulse/devpulse-server/internal/prefs"
	"github.com/devpulse/devpulse-server/internal/presence"
	"github.com/devpulse/devpulse-server/internal/protocol"
)

// maxCustomStatusRunes is the hard cap on custom-status text, in code points. Longer text is truncated, not rejected.
const maxCustomStatusRunes = 128

// handleStatusUpdate diffs the update against the window's state and, when anything changed, writes the union
// snapshot to the status cache and publishes the delta. An update that changes nothing produces no outbound traffic.
func (h *Hub) handleStatusUpdate(c *Client, m protocol.StatusUpdate) {
	if m.Status != nil && !protocol.ValidStatus(*m.Status) {
		c.sendError("invalid status value", CodeInvalidFrame)
		return
	}
	if m.Activity != nil && !protocol.ValidActivity(*m.Activity) {
		c.sendError("invalid activity value", CodeInvalidFrame)
		return
	}

	delta := c.applyUpdate(m)
	if delta.Empty() {
		return
	}
	h.publishDelta(c, delta)
}

// publishDelta writes the window's full snapshot to the status cache, publishes the delta to the user's presence
// topic, and mirrors it to every channel the user belongs to.
func (h *Hub) publishDelta(c *Client, delta protocol.Delta) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	username := c.Username()
	if err := h.cache.Set(ctx, username, c.snapshot()); err != nil {
		h.log.Warn().Err(err).Str("username", username).Msg("Status cache write failed")
	}

	frame, err := protocol.NewUpdate(username, delta)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to encode delta")
		c.sendError("internal error", CodeInternalError)
		return
	}
	if err := h.publisher.Publish(ctx, presenceTopic(username), frame); err != nil {
		h.log.Warn().Err(err).Str("username", username).Msg("Delta publish failed")
		c.sendError("internal error", CodeInternalError)
		return
	}

	for _, id := range c.channelIDs() {
		cu, err := protocol.NewChannelUpdate(id, username, delta)
		if err != nil {
			continue
		}
		if err := h.publisher.Publish(ctx, channelTopic(id), cu); err != nil {
			h.log.Warn().Err(err).Str("channel_id", id).Msg("Channel update publish failed")
		}
	}
}

// handleSetCustomStatus installs a custom status. Text is sanitised and truncated to the code-point cap; an expiry
// duration installs a deadline drained by the liveness sweep.
func (h *Hub) handleSetCustomStatus(c *Client, m protocol.SetCustomStatus) {
	text := truncateRunes(h.sanitizer.Sanitize(m.Text), maxCustomStatusRunes)
	if text == "" {
		c.sendError("custom status text required", CodeInvalidFrame)
		return
	}

	cs := protocol.CustomStatus{Text: text, Emoji: m.Emoji}
	if m.ExpiresIn > 0 {
		cs.ExpiresAt = time.Now().UnixMilli() + m.ExpiresIn*1000
	}
	raw, err := json.Marshal(cs)
	if err != nil {
		c.sendError("internal error", CodeInternalError)
		return
	}

	gen := c.setCustom(string(raw))
	if cs.ExpiresAt > 0 {
		h.expiries.push(c, gen, cs.ExpiresAt)
	}

	h.publishDelta(c, protocol.Delta{CS: raw})
}

// handleClearCustomStatus removes the custom status. Clearing when none is set is a no-op.
func (h *Hub) handleClearCustomStatus(c *Client) {
	if !c.clearCustom() {
		return
	}
	h.publishDelta(c, protocol.Delta{CS: protocol.NullCustomStatus})
}

// handlePrefsUpdate applies a partial preferences change and publishes the visibility transitions it causes:
// entering invisible looks like going offline to every subscriber, leaving it looks like coming online.
func (h *Hub) handlePrefsUpdate(c *Client, m protocol.PrefsUpdate) {
	if c.IsGuest() {
		c.sendError("guests cannot set preferences", CodeForbidden)
		return
	}

	patch := prefs.Patch{
		Visibility:    m.Prefs.Visibility,
		ShareProject:  m.Prefs.ShareProject,
		ShareLanguage: m.Prefs.ShareLanguage,
		ShareActivity: m.Prefs.ShareActivity,
	}
	if err := patch.Validate(); err != nil {
		c.sendError("invalid visibility mode", CodeInvalidFrame)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	githubID, _ := c.identity()
	before, err := h.prefs.Get(ctx, githubID)
	if err != nil {
		h.log.Error().Err(err).Msg("Preferences read failed")
		c.sendError("internal error", CodeInternalError)
		return
	}
	after, err := h.prefs.Apply(ctx, githubID, patch)
	if err != nil {
		h.log.Error().Err(err).Msg("Preferences write failed")
		c.sendError("internal error", CodeInternalError)
		return
	}

	username := c.Username()
	h.invalidateTarget(username)

	wasInvisible := before.Visibility == protocol.VisibilityInvisible
	nowInvisible := after.Visibility == protocol.VisibilityInvisible
	switch {
	case !wasInvisible && nowInvisible:
		if err := h.cache.Delete(ctx, username); err != nil {
			h.log.Warn().Err(err).Msg("Status cache delete failed on invisible transition")
		}
		if frame, fErr := protocol.NewOffline(username, time.Now().UnixMilli()); fErr == nil {
			if err := h.publisher.Publish(ctx, presenceTopic(username), frame); err != nil {
				h.log.Warn().Err(err).Msg("Offline publish failed on invisible transition")
			}
		}
	case wasInvisible && !nowInvisible:
		h.publishAggregatedOnline(ctx, username)
	}
}

// publishAggregatedOnline publishes a full-snapshot online event built from the username's local windows.
func (h *Hub) publishAggregatedOnline(ctx context.Context, username string) {
	windows := h.localWindows(username)
	agg, ok := presence.Aggregate(windowStates(windows))
	if !ok {
		return
	}
	avatar := ""
	if len(windows) > 0 {
		windows[0].mu.RLock()
		avatar = windows[0].avatar
		windows[0].mu.RUnlock()
	}
	frame, err := protocol.NewOnline(username, avatar, agg.Status, agg.Activity, agg.Project, agg.Language)
	if err != nil {
		return
	}
	if err := h.publisher.Publish(ctx, presenceTopic(username), frame); err != nil {
		h.log.Warn().Err(err).Str("username", username).Msg("Online publish failed")
	}
}

// truncateRunes cuts s at exactly n code points.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
