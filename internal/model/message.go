package model

import (
	"encoding/json"
	"time"
)

// Message is one turn of a user's chat log. Rows are written by the async
// persistence worker; the streaming response never waits on them.
type Message struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    string    `gorm:"size:191;not null;index" json:"user_id"`
	Role      string    `gorm:"size:16;not null" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	Images    string    `gorm:"type:text" json:"images,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SetImages stores the attached image data URLs as a JSON array.
func (m *Message) SetImages(images []string) error {
	if len(images) == 0 {
		m.Images = ""
		return nil
	}
	data, err := json.Marshal(images)
	if err != nil {
		return err
	}
	m.Images = string(data)
	return nil
}

// ImageList parses the stored image JSON; nil when the message has none.
func (m *Message) ImageList() []string {
	if m.Images == "" {
		return nil
	}
	var images []string
	if err := json.Unmarshal([]byte(m.Images), &images); err != nil {
		return nil
	}
	return images
}
