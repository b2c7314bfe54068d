package render

import (
	"net/url"
	"strconv"
	"strings"
)

// ClickLinkKey is the payload key holding a message's click-through hint.
const ClickLinkKey = "_click_link"

// ClickLink returns the click-through URL of a payload. Absolute links are
// returned unchanged. Relative ones are expanded through format, which may
// use {url_path}, {encoded_url_path}, {user_msg_id}, {msg_id} and {hostname}.
func ClickLink(format string, payload map[string]any, userMsgID, msgID int64, hostname string) string {
	path, _ := payload[ClickLinkKey].(string)
	if path == "" {
		return ""
	}
	if strings.HasPrefix(path, "http") || format == "" {
		return path
	}

	return strings.NewReplacer(
		"{url_path}", path,
		"{encoded_url_path}", url.QueryEscape(path),
		"{user_msg_id}", strconv.FormatInt(userMsgID, 10),
		"{msg_id}", strconv.FormatInt(msgID, 10),
		"{hostname}", hostname,
	).Replace(format)
}
