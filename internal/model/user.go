package model

import "time"

// User mirrors an identity issued by the external auth provider. Rows are
// created lazily on the first upload or chat turn; the ID is the provider's
// subject claim and is never generated here.
type User struct {
	ID          string    `gorm:"primaryKey;size:191" json:"id"`
	Email       string    `gorm:"size:128;index" json:"email"`
	DisplayName string    `gorm:"size:128" json:"display_name"`
	Role        string    `gorm:"size:32;not null;default:user" json:"role"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	Documents []Document `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	Messages  []Message  `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}
