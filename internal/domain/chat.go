package domain

// Role is the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation, persisted per conversation id.
type Message struct {
	ConversationID string `json:"conversation_id"`
	Role           Role   `json:"role"`
	Content        string `json:"content"`
	Timestamp      int64  `json:"timestamp"`
	Time           string `json:"time,omitempty"`
}

// NewMessage builds a Message stamped with the current time.
func NewMessage(conversationID string, role Role, content string) Message {
	ts := NowMs()
	return Message{
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Timestamp:      ts,
		Time:           msToHuman(ts),
	}
}
