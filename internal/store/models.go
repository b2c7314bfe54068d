package store

import (
	"encoding/json"
	"time"
)

// NotificationType classifies messages and selects their renderer.
type NotificationType struct {
	Name            string         `json:"name"`
	Renderer        string         `json:"renderer"`
	RendererContext map[string]any `json:"renderer_context,omitempty"`
}

// Message is a notification produced once and fanned out to users.
type Message struct {
	ID           int64            `json:"id"`
	Type         NotificationType `json:"msg_type"`
	Namespace    string           `json:"namespace,omitempty"`
	Payload      map[string]any   `json:"payload"`
	ResolveLinks map[string]any   `json:"resolve_links,omitempty"`
	ObjectID     string           `json:"object_id,omitempty"`
	Created      time.Time        `json:"created"`
}

// UserNotification is the per-recipient record of a message.
// A nil ReadAt means unread.
type UserNotification struct {
	ID      int64      `json:"id"`
	UserID  int64      `json:"user_id"`
	Msg     Message    `json:"msg"`
	ReadAt  *time.Time `json:"read_at,omitempty"`
	Created time.Time  `json:"created"`
}

// IsRead reports whether the notification has been marked read.
func (u UserNotification) IsRead() bool {
	return u.ReadAt != nil
}

// Timer is a named, schedulable invocation of a registered handler.
type Timer struct {
	Name           string         `json:"name"`
	CallbackAt     time.Time      `json:"callback_at"`
	ClassName      string         `json:"class_name"`
	IsActive       bool           `json:"is_active"`
	PeriodicityMin int            `json:"periodicity_min,omitempty"` // 0 means one-shot
	Context        map[string]any `json:"context"`
	ExecutedAt     *time.Time     `json:"executed_at,omitempty"`
	ErrMsg         *string        `json:"err_msg,omitempty"`
	Results        map[string]any `json:"results,omitempty"`
	Created        time.Time      `json:"created"`
}

// Due reports whether the timer should run at now.
func (t Timer) Due(now time.Time) bool {
	return t.IsActive && t.ExecutedAt == nil && !t.CallbackAt.After(now)
}

// Preference is a system-wide named flag with a default value.
type Preference struct {
	Name               string `json:"name"`
	DisplayName        string `json:"display_name"`
	DisplayDescription string `json:"display_description"`
	DefaultValue       string `json:"default_value"`
}

// UserPreference overrides a Preference for one user.
type UserPreference struct {
	UserID     int64      `json:"user_id"`
	Preference Preference `json:"preference"`
	Value      string     `json:"value"`
}

// CopyMap returns a deep copy of a JSON-like map. Nested maps and slices are
// copied, everything else is shared.
func CopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CopyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = copyValue(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return v
	}
}

// EncodeMap serializes a map column. A nil map encodes as "{}".
func EncodeMap(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeMap parses a map column. Empty input decodes to an empty map.
func DecodeMap(data string) (map[string]any, error) {
	out := map[string]any{}
	if data == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil, err
	}
	return out, nil
}
