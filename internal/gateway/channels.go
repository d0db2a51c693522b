package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/devpulse/devpulse-server/internal/channel"
	"github.com/devpulse/devpulse-server/internal/presence"
	"github.com/devpulse/devpulse-server/internal/privacy"
	"github.com/devpulse/devpulse-server/internal/protocol"
)

// maxChatRunes caps channel chat content after sanitisation.
const maxChatRunes = 2000

// handleChannelCreate creates a channel with the caller as admin, subscribes the connection to its topic, and replies
// with ccOk followed by a roster containing the caller alone.
func (h *Hub) handleChannelCreate(c *Client, m protocol.ChannelCreate) {
	if c.IsGuest() {
		c.sendError("channels require an authenticated identity", CodeForbidden)
		return
	}

	name, err := channel.ValidateName(m.Name)
	if err != nil {
		c.sendError("channel name must be between 3 and 30 characters", CodeInvalidFrame)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	githubID, _ := c.identity()
	ch, err := h.channels.Create(ctx, name, githubID, c.Username())
	if err != nil {
		h.log.Error().Err(err).Msg("Channel create failed")
		c.sendError("internal error", CodeInternalError)
		return
	}

	id := ch.ID.String()
	if err := h.subs.add(ctx, c, channelTopic(id)); err != nil {
		h.log.Error().Err(err).Msg("Channel topic subscribe failed")
		c.sendError("internal error", CodeInternalError)
		return
	}
	c.addChannel(id)

	if frame, fErr := protocol.NewChannelCreated(id, ch.Name, ch.InviteCode); fErr == nil {
		c.enqueue(frame)
	}
	if frame, fErr := protocol.NewChannelSync(id, ch.Name, []protocol.CompactUser{c.compact()}); fErr == nil {
		c.enqueue(frame)
	}

	h.log.Info().Str("channel_id", id).Str("name", ch.Name).Msg("Channel created")
}

// handleChannelJoin admits the caller via invite code, replies with jcOk and the full roster, and announces the new
// member on the channel topic.
func (h *Hub) handleChannelJoin(c *Client, m protocol.ChannelJoin) {
	if c.IsGuest() {
		c.sendError("channels require an authenticated identity", CodeForbidden)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	ch, err := h.channels.GetByInviteCode(ctx, m.InviteCode)
	if err != nil {
		if errors.Is(err, channel.ErrNotFound) {
			c.sendError("unknown invite code", CodeNotFound)
			return
		}
		h.log.Error().Err(err).Msg("Invite lookup failed")
		c.sendError("internal error", CodeInternalError)
		return
	}

	githubID, _ := c.identity()
	if err := h.channels.Join(ctx, ch.ID, githubID, c.Username()); err != nil {
		switch {
		case errors.Is(err, channel.ErrAlreadyMember):
			c.sendError("already a member of this channel", CodeAlreadyMember)
		case errors.Is(err, channel.ErrFull):
			c.sendError("channel is full", CodeFullChannel)
		default:
			h.log.Error().Err(err).Msg("Channel join failed")
			c.sendError("internal error", CodeInternalError)
		}
		return
	}

	id := ch.ID.String()
	if err := h.subs.add(ctx, c, channelTopic(id)); err != nil {
		h.log.Error().Err(err).Msg("Channel topic subscribe failed")
		c.sendError("internal error", CodeInternalError)
		return
	}
	c.addChannel(id)

	if frame, fErr := protocol.NewJoinOK(id, ch.Name); fErr == nil {
		c.enqueue(frame)
	}

	roster, err := h.channelRoster(ctx, ch)
	if err != nil {
		h.log.Warn().Err(err).Str("channel_id", id).Msg("Roster assembly failed")
	} else if frame, fErr := protocol.NewChannelSync(id, ch.Name, roster); fErr == nil {
		c.enqueue(frame)
	}

	if frame, fErr := protocol.NewMemberJoined(id, c.compact()); fErr == nil {
		if err := h.publisher.Publish(ctx, channelTopic(id), frame); err != nil {
			h.log.Warn().Err(err).Str("channel_id", id).Msg("Member-joined publish failed")
		}
	}
}

// handleChannelLeave removes the caller's membership, unsubscribes the connection, and announces the departure.
func (h *Hub) handleChannelLeave(c *Client, m protocol.ChannelLeave) {
	id, err := uuid.Parse(m.ChannelID)
	if err != nil {
		c.sendError("invalid channel id", CodeInvalidFrame)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	githubID, _ := c.identity()
	if err := h.channels.Leave(ctx, id, githubID); err != nil {
		if errors.Is(err, channel.ErrNotMember) {
			c.sendError("not a member of this channel", CodeNotFound)
			return
		}
		h.log.Error().Err(err).Msg("Channel leave failed")
		c.sendError("internal error", CodeInternalError)
		return
	}

	topic := channelTopic(m.ChannelID)
	if frame, fErr := protocol.NewMemberLeft(m.ChannelID, c.Username()); fErr == nil {
		if err := h.publisher.Publish(ctx, topic, frame); err != nil {
			h.log.Warn().Err(err).Str("channel_id", m.ChannelID).Msg("Member-left publish failed")
		}
	}

	h.subs.remove(ctx, c, topic)
	c.removeChannel(m.ChannelID)
}

// handleChannelChat publishes a chat message with the server-assigned sender and timestamp. Content is sanitised and
// capped; non-members are rejected.
func (h *Hub) handleChannelChat(c *Client, m protocol.ChannelChat) {
	id, err := uuid.Parse(m.ChannelID)
	if err != nil {
		c.sendError("invalid channel id", CodeInvalidFrame)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	githubID, _ := c.identity()
	member, err := h.channels.IsMember(ctx, id, githubID)
	if err != nil {
		h.log.Error().Err(err).Msg("Membership check failed")
		c.sendError("internal error", CodeInternalError)
		return
	}
	if !member {
		c.sendError("not a member of this channel", CodeForbidden)
		return
	}

	content := truncateRunes(h.sanitizer.Sanitize(m.Content), maxChatRunes)
	if content == "" {
		c.sendError("message content required", CodeInvalidFrame)
		return
	}

	frame, err := protocol.NewChannelChat(m.ChannelID, c.Username(), content, time.Now().UnixMilli())
	if err != nil {
		c.sendError("internal error", CodeInternalError)
		return
	}
	if err := h.publisher.Publish(ctx, channelTopic(m.ChannelID), frame); err != nil {
		h.log.Warn().Err(err).Str("channel_id", m.ChannelID).Msg("Chat publish failed")
		c.sendError("internal error", CodeInternalError)
	}
}

// channelRoster assembles the member list with the best status annotation available: live local windows first, then
// the status cache, then an offline placeholder. Invisible members are shown as the placeholder; share flags are
// applied to what remains.
func (h *Hub) channelRoster(ctx context.Context, ch *channel.Channel) ([]protocol.CompactUser, error) {
	members, err := h.channels.Members(ctx, ch.ID)
	if err != nil {
		return nil, err
	}

	var remote []string
	local := make(map[string][]*Client, len(members))
	for _, m := range members {
		if windows := h.localWindows(m.Username); len(windows) > 0 {
			local[m.Username] = windows
		} else {
			remote = append(remote, m.Username)
		}
	}
	cached, err := h.cache.GetMany(ctx, remote)
	if err != nil {
		h.log.Warn().Err(err).Msg("Status cache read failed during roster assembly")
		cached = map[string]presence.State{}
	}

	roster := make([]protocol.CompactUser, 0, len(members))
	for _, m := range members {
		cu := protocol.CompactUser{
			ID:       m.Username,
			Status:   protocol.StatusOffline,
			Activity: protocol.ActivityIdle,
		}

		entry, lErr := h.lookupTarget(ctx, m.Username)
		if lErr != nil {
			h.log.Warn().Err(lErr).Str("username", m.Username).Msg("Target lookup failed during roster assembly")
			roster = append(roster, cu)
			continue
		}
		if entry.user != nil {
			cu.Avatar = entry.user.AvatarURL
			cu.LastSeen = entry.user.LastSeenMS
		}
		if entry.user != nil && entry.prefs.Visibility == protocol.VisibilityInvisible {
			roster = append(roster, cu)
			continue
		}

		if windows, ok := local[m.Username]; ok {
			if agg, aOk := presence.Aggregate(windowStates(windows)); aOk {
				cu.Status = agg.Status
				cu.Activity = agg.Activity
				cu.Project = agg.Project
				cu.Language = agg.Language
				cu.LastSeen = 0
			}
		} else if state, ok := cached[m.Username]; ok {
			cu.Status = state.Status
			cu.Activity = state.Activity
			cu.Project = state.Project
			cu.Language = state.Language
			cu.LastSeen = state.LastSeenMS
		}

		if entry.user != nil {
			privacy.RedactCompact(&cu, entry.prefs)
		}
		roster = append(roster, cu)
	}
	return roster, nil
}
