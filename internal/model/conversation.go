package model

import "time"

// DefaultConversationTitle is the placeholder assigned at creation and
// replaced by the title synthesizer after the first completed turn.
const DefaultConversationTitle = "Nova Conversa"

type Conversation struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	UserID uint   `gorm:"not null;index" json:"user_id"`
	Title  string `gorm:"size:255;not null" json:"title"`
	// ThreadID correlates the conversation with the provider-side thread.
	// NULL until the first message exchange; stable afterwards.
	ThreadID  *string   `gorm:"size:128;uniqueIndex" json:"thread_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
