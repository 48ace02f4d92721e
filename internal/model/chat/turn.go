package chat

// Role 标识对话中的发言方。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one exchange entry. History is owned by the caller and replayed on every request.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}
