package protocol

import (
	"encoding/json"
	"fmt"
)

// NullCustomStatus is the wire sentinel for an explicitly cleared custom status. Distinct from an absent "cs" field,
// which means "unchanged".
var NullCustomStatus = json.RawMessage("null")

// Delta carries the changed status fields of a user. Nil fields are omitted from the wire so subscribers can tell
// "unchanged" from "cleared". CS is a raw message so that NullCustomStatus survives encoding.
type Delta struct {
	Status   *string         `json:"s,omitempty"`
	Activity *string         `json:"a,omitempty"`
	Project  *string         `json:"p,omitempty"`
	Language *string         `json:"l,omitempty"`
	CS       json.RawMessage `json:"cs,omitempty"`
}

// Empty returns true when the delta carries no fields. An empty delta must not be published (idempotent no-op).
func (d Delta) Empty() bool {
	return d.Status == nil && d.Activity == nil && d.Project == nil && d.Language == nil && len(d.CS) == 0
}

type loginSuccess struct {
	T         string   `json:"t"`
	Token     string   `json:"token"`
	GithubID  *int64   `json:"githubId,omitempty"`
	Followers []string `json:"followers,omitempty"`
	Following []string `json:"following,omitempty"`
}

type loginError struct {
	T     string `json:"t"`
	Error string `json:"error"`
}

type syncUsers struct {
	T     string        `json:"t"`
	Users []CompactUser `json:"users"`
}

type userDelta struct {
	T  string `json:"t"`
	ID string `json:"id"`
	Delta
}

type online struct {
	T        string `json:"t"`
	ID       string `json:"id"`
	Avatar   string `json:"a,omitempty"`
	Status   string `json:"s"`
	Activity string `json:"act"`
	Project  string `json:"p,omitempty"`
	Language string `json:"l,omitempty"`
}

type offline struct {
	T  string `json:"t"`
	ID string `json:"id"`
	TS int64  `json:"ts"`
}

type heartbeat struct {
	T string `json:"t"`
}

type serverError struct {
	T     string `json:"t"`
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type channelCreated struct {
	T          string `json:"t"`
	ChannelID  string `json:"channelId"`
	Name       string `json:"name"`
	InviteCode string `json:"inviteCode"`
}

type joinOK struct {
	T         string `json:"t"`
	ChannelID string `json:"channelId"`
	Name      string `json:"name"`
}

type channelSync struct {
	T         string        `json:"t"`
	ChannelID string        `json:"channelId"`
	Name      string        `json:"name"`
	Members   []CompactUser `json:"members"`
}

type channelUpdate struct {
	T         string `json:"t"`
	ChannelID string `json:"channelId"`
	ID        string `json:"id"`
	Delta
}

type memberJoined struct {
	T         string      `json:"t"`
	ChannelID string      `json:"channelId"`
	Member    CompactUser `json:"member"`
}

type memberLeft struct {
	T         string `json:"t"`
	ChannelID string `json:"channelId"`
	ID        string `json:"id"`
}

type channelChat struct {
	T         string `json:"t"`
	ChannelID string `json:"channelId"`
	ID        string `json:"id"`
	Content   string `json:"content"`
	TS        int64  `json:"ts"`
}

// NewLoginSuccess returns a serialised loginSuccess frame carrying the fresh resume token, the identity-id for
// authenticated users, and the social-graph snapshot resolved to usernames.
func NewLoginSuccess(resumeToken string, githubID *int64, followers, following []string) ([]byte, error) {
	return json.Marshal(loginSuccess{T: "loginSuccess", Token: resumeToken, GithubID: githubID, Followers: followers, Following: following})
}

// NewLoginError returns a serialised loginError frame with a human-readable reason.
func NewLoginError(reason string) ([]byte, error) {
	return json.Marshal(loginError{T: "loginError", Error: reason})
}

// NewSync returns a serialised initial-sync frame with the viewer's visible friends.
func NewSync(users []CompactUser) ([]byte, error) {
	if users == nil {
		users = []CompactUser{}
	}
	return json.Marshal(syncUsers{T: "sync", Users: users})
}

// NewUpdate returns a serialised delta frame for the given user.
func NewUpdate(id string, d Delta) ([]byte, error) {
	return json.Marshal(userDelta{T: "u", ID: id, Delta: d})
}

// NewOnline returns a serialised online frame carrying a full state snapshot.
func NewOnline(id, avatar, status, activity, project, language string) ([]byte, error) {
	return json.Marshal(online{T: "o", ID: id, Avatar: avatar, Status: status, Activity: activity, Project: project, Language: language})
}

// NewOffline returns a serialised offline frame with the server-observed timestamp in milliseconds.
func NewOffline(id string, ts int64) ([]byte, error) {
	return json.Marshal(offline{T: "x", ID: id, TS: ts})
}

// NewHeartbeat returns a serialised heartbeat frame.
func NewHeartbeat() ([]byte, error) {
	return json.Marshal(heartbeat{T: "hb"})
}

// NewError returns a serialised error frame. code is one of the error kind identifiers and may be empty.
func NewError(message, code string) ([]byte, error) {
	return json.Marshal(serverError{T: "error", Error: message, Code: code})
}

// NewChannelCreated returns a serialised ccOk frame.
func NewChannelCreated(channelID, name, inviteCode string) ([]byte, error) {
	return json.Marshal(channelCreated{T: "ccOk", ChannelID: channelID, Name: name, InviteCode: inviteCode})
}

// NewJoinOK returns a serialised jcOk frame.
func NewJoinOK(channelID, name string) ([]byte, error) {
	return json.Marshal(joinOK{T: "jcOk", ChannelID: channelID, Name: name})
}

// NewChannelSync returns a serialised channel roster frame.
func NewChannelSync(channelID, name string, members []CompactUser) ([]byte, error) {
	if members == nil {
		members = []CompactUser{}
	}
	return json.Marshal(channelSync{T: "cs", ChannelID: channelID, Name: name, Members: members})
}

// NewChannelUpdate returns a serialised cu frame mirroring a member's delta into a channel topic.
func NewChannelUpdate(channelID, id string, d Delta) ([]byte, error) {
	return json.Marshal(channelUpdate{T: "cu", ChannelID: channelID, ID: id, Delta: d})
}

// NewMemberJoined returns a serialised cj frame carrying the new member's compact status.
func NewMemberJoined(channelID string, member CompactUser) ([]byte, error) {
	return json.Marshal(memberJoined{T: "cj", ChannelID: channelID, Member: member})
}

// NewMemberLeft returns a serialised cl frame.
func NewMemberLeft(channelID, id string) ([]byte, error) {
	return json.Marshal(memberLeft{T: "cl", ChannelID: channelID, ID: id})
}

// NewChannelChat returns a serialised chat frame with the server-assigned sender and millisecond timestamp.
func NewChannelChat(channelID, senderID, content string, ts int64) ([]byte, error) {
	return json.Marshal(channelChat{T: "cm", ChannelID: channelID, ID: senderID, Content: content, TS: ts})
}

// TopicMessage is the partially decoded form of a frame read back from a broker topic. The egress path uses it to
// classify the frame, apply privacy redaction, and re-encode. Note that "a" is the activity in u/cu frames but the
// avatar URL in o frames; both are strings so a single field suffices.
type TopicMessage struct {
	T         string          `json:"t"`
	ID        string          `json:"id,omitempty"`
	ChannelID string          `json:"channelId,omitempty"`
	Status    *string         `json:"s,omitempty"`
	A         *string         `json:"a,omitempty"`
	Act       *string         `json:"act,omitempty"`
	Project   *string         `json:"p,omitempty"`
	Language  *string         `json:"l,omitempty"`
	CS        json.RawMessage `json:"cs,omitempty"`
	TS        *int64          `json:"ts,omitempty"`
	Content   string          `json:"content,omitempty"`
	Name      string          `json:"name,omitempty"`
	Member    json.RawMessage `json:"member,omitempty"`
}

// DecodeTopicMessage parses a frame read from a broker topic.
func DecodeTopicMessage(data []byte) (*TopicMessage, error) {
	var m TopicMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode topic message: %w", err)
	}
	if m.T == "" {
		return nil, fmt.Errorf("decode topic message: missing discriminator")
	}
	return &m, nil
}

// Encode re-serialises the message after redaction.
func (m *TopicMessage) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode topic message: %w", err)
	}
	return data, nil
}

// UserScoped returns true for frame types whose delivery is governed by the target user's visibility rules. Channel
// frames bypass graph visibility because their subscribers are members by construction.
func (m *TopicMessage) UserScoped() bool {
	switch m.T {
	case "u", "o", "x":
		return true
	default:
		return false
	}
}
