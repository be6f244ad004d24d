package websocket

// Message is one wire-protocol frame pushed to connected clients.
type Message struct {
	Type    string   `json:"type"`
	Updates []Update `json:"updates,omitempty"`
	Message string   `json:"message,omitempty"`
}

// Update describes one hot-swappable module refresh.
type Update struct {
	// Type is "code-update" or "style-update"
	Type string `json:"type"`
	// Path is the module URL the client should refetch
	Path string `json:"path"`
	// Timestamp versions the refetch for cache busting
	Timestamp int64 `json:"timestamp"`
}

const (
	MessageConnected  = "connected"
	MessageUpdate     = "update"
	MessageFullReload = "full-reload"
	MessageError      = "error"

	UpdateCode  = "code-update"
	UpdateStyle = "style-update"
)

// ConnectedMessage is sent once on client attach.
func ConnectedMessage() Message {
	return Message{Type: MessageConnected}
}

// UpdateMessage carries a batch of fine-grained updates.
func UpdateMessage(updates []Update) Message {
	return Message{Type: MessageUpdate, Updates: updates}
}

// FullReloadMessage tells every client to reload the page.
func FullReloadMessage() Message {
	return Message{Type: MessageFullReload}
}

// ErrorMessage surfaces a server-side failure to running pages.
func ErrorMessage(text string) Message {
	return Message{Type: MessageError, Message: text}
}

// OriginValidator decides whether a websocket upgrade origin is allowed.
type OriginValidator interface {
	IsAllowedOrigin(origin string) bool
}

// AllowedOrigins validates against a fixed list; an empty list allows all,
// matching a local-only dev server.
type AllowedOrigins []string

// IsAllowedOrigin implements OriginValidator
func (a AllowedOrigins) IsAllowedOrigin(origin string) bool {
	if len(a) == 0 {
		return true
	}
	for _, allowed := range a {
		if allowed == origin || allowed == "*" {
			return true
		}
	}
	return false
}
