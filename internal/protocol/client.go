package protocol

import (
	"encoding/json"
	"fmt"
)

// ClientMessage is the decoded form of a client-to-server frame. The concrete type is determined by the frame's "t"
// discriminator.
type ClientMessage interface {
	clientMessage()
}

// Login requests authentication for a new connection. Exactly one of the resolution paths applies: resume token,
// provider access token, or guest registration of the declared username.
type Login struct {
	Username    string `json:"username"`
	Token       string `json:"token,omitempty"`
	ResumeToken string `json:"resumeToken,omitempty"`
}

// StatusUpdate carries any subset of the four status fields. A nil field means "unchanged".
type StatusUpdate struct {
	Status   *string `json:"s,omitempty"`
	Activity *string `json:"a,omitempty"`
	Project  *string `json:"p,omitempty"`
	Language *string `json:"l,omitempty"`
}

// PrefsPatch is a partial preferences update. Nil fields are left unchanged.
type PrefsPatch struct {
	Visibility    *string `json:"visibility,omitempty"`
	ShareProject  *bool   `json:"shareProjectName,omitempty"`
	ShareLanguage *bool   `json:"shareLanguage,omitempty"`
	ShareActivity *bool   `json:"shareActivity,omitempty"`
}

// PrefsUpdate applies a partial preferences change.
type PrefsUpdate struct {
	Prefs PrefsPatch `json:"prefs"`
}

// Heartbeat is a client-initiated liveness ping. It is answered immediately.
type Heartbeat struct{}

// ChannelCreate requests a new channel with the given name.
type ChannelCreate struct {
	Name string `json:"name"`
}

// ChannelJoin requests membership via an invite code.
type ChannelJoin struct {
	InviteCode string `json:"inviteCode"`
}

// ChannelLeave removes the caller from a channel.
type ChannelLeave struct {
	ChannelID string `json:"channelId"`
}

// ChannelChat posts a message to a channel.
type ChannelChat struct {
	ChannelID string `json:"channelId"`
	Content   string `json:"content"`
}

// SetCustomStatus installs a custom status with optional emoji prefix and expiry.
type SetCustomStatus struct {
	Text      string `json:"text"`
	Emoji     string `json:"emoji,omitempty"`
	ExpiresIn int64  `json:"expiresIn,omitempty"` // seconds; 0 means no expiry
}

// ClearCustomStatus removes the current custom status.
type ClearCustomStatus struct{}

func (Login) clientMessage()             {}
func (StatusUpdate) clientMessage()      {}
func (PrefsUpdate) clientMessage()       {}
func (Heartbeat) clientMessage()         {}
func (ChannelCreate) clientMessage()     {}
func (ChannelJoin) clientMessage()       {}
func (ChannelLeave) clientMessage()      {}
func (ChannelChat) clientMessage()       {}
func (SetCustomStatus) clientMessage()   {}
func (ClearCustomStatus) clientMessage() {}

// envelope extracts the discriminator before the payload is decoded into its concrete type.
type envelope struct {
	T string `json:"t"`
}

// DecodeClient parses a raw client frame into its typed form. Malformed JSON, an unknown discriminator, or a missing
// required field all yield an error wrapping ErrInvalidFrame; none of them terminate the connection.
func DecodeClient(data []byte) (ClientMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: malformed JSON", ErrInvalidFrame)
	}

	switch env.T {
	case "login":
		var m Login
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: malformed login", ErrInvalidFrame)
		}
		if m.Username == "" {
			return nil, fmt.Errorf("%w: login requires username", ErrInvalidFrame)
		}
		return m, nil
	case "statusUpdate":
		var m StatusUpdate
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: malformed statusUpdate", ErrInvalidFrame)
		}
		return m, nil
	case "prefsUpdate":
		var m PrefsUpdate
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: malformed prefsUpdate", ErrInvalidFrame)
		}
		return m, nil
	case "hb":
		return Heartbeat{}, nil
	case "cc":
		var m ChannelCreate
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: malformed cc", ErrInvalidFrame)
		}
		if m.Name == "" {
			return nil, fmt.Errorf("%w: cc requires name", ErrInvalidFrame)
		}
		return m, nil
	case "jc":
		var m ChannelJoin
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: malformed jc", ErrInvalidFrame)
		}
		if m.InviteCode == "" {
			return nil, fmt.Errorf("%w: jc requires inviteCode", ErrInvalidFrame)
		}
		return m, nil
	case "lc":
		var m ChannelLeave
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: malformed lc", ErrInvalidFrame)
		}
		if m.ChannelID == "" {
			return nil, fmt.Errorf("%w: lc requires channelId", ErrInvalidFrame)
		}
		return m, nil
	case "cm":
		var m ChannelChat
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: malformed cm", ErrInvalidFrame)
		}
		if m.ChannelID == "" || m.Content == "" {
			return nil, fmt.Errorf("%w: cm requires channelId and content", ErrInvalidFrame)
		}
		return m, nil
	case "ss":
		var m SetCustomStatus
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: malformed ss", ErrInvalidFrame)
		}
		if m.Text == "" {
			return nil, fmt.Errorf("%w: ss requires text", ErrInvalidFrame)
		}
		return m, nil
	case "clr":
		return ClearCustomStatus{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidFrame, env.T)
	}
}
