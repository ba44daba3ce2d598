package storage

import (
	"smith/internal/chat"
	"smith/internal/session"
)

// Store 持久化接口：会话元数据、消息历史与待办列表
// Store is the persistence interface for session metadata, message history,
// and the todo list.
type Store interface {
	// Session 操作 / Session operations
	CreateSession(meta SessionMeta) error
	SaveSession(meta SessionMeta) error
	LoadSession(id string) (SessionMeta, error)
	ListSessions() ([]SessionMeta, error)

	// Message 操作 / Message operations
	SaveMessages(sessionID string, messages []chat.Message) error
	AppendMessages(sessionID string, startSeq int, messages []chat.Message) error
	LoadMessages(sessionID string) ([]chat.Message, error)

	// Todo 操作 / Todo operations
	ListTodos(sessionID string) ([]session.Todo, error)
	ReplaceTodos(sessionID string, todos []session.Todo) error

	// 生命周期 / Lifecycle
	Close() error
}
