package storage

// SessionMeta 会话元数据
// SessionMeta holds session metadata
type SessionMeta struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Model     string `json:"model"`
	CWD       string `json:"cwd"`
	AutoEdit  bool   `json:"auto_edit"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}
