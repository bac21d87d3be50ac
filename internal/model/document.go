package model

import "time"

// Document records one uploaded file after text extraction. Content holds the
// full extracted text so a document can be re-chunked without re-uploading.
type Document struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	UserID    string    `gorm:"size:191;not null;index" json:"user_id"`
	FileName  string    `gorm:"size:256;not null" json:"file_name"`
	MIMEType  string    `gorm:"size:128;not null" json:"mime_type"`
	SizeBytes int64     `gorm:"not null" json:"size_bytes"`
	Content   string    `gorm:"type:text" json:"-"`
	CreatedAt time.Time `json:"created_at"`

	Chunks []Chunk `gorm:"foreignKey:DocumentID;constraint:OnDelete:CASCADE" json:"-"`
}
