package connect

// MessageTypeOAuthComplete identifies a completion message.
const MessageTypeOAuthComplete = "OAUTH_COMPLETE"

// Message is the structured signal posted when an authorization flow
// finishes. It is delivered to the waiting attempt and relayed to the
// user's open dashboards.
type Message struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	AppSlug string `json:"appSlug,omitempty"`
	Error   string `json:"error,omitempty"`

	// Origin identifies the sender. The reconciler discards messages whose
	// origin differs from its own; they must never alter attempt state.
	Origin string `json:"-"`
}
