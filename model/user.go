package model

import "time"

type User struct {
	ID        string    `json:"id" gorm:"primaryKey;type:text;not null"`
	Email     string    `json:"email" gorm:"uniqueIndex;not null;size:255"`
	Username  string    `json:"username" gorm:"uniqueIndex;size:100"`
	Role      string    `json:"role" gorm:"not null;size:20;default:user"`
	CreatedAt time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

// Subscription mirrors the billing provider's state for a user. It is written
// by the billing webhook and only read here to resolve the quota tier.
type Subscription struct {
	ID               string     `json:"id" gorm:"primaryKey;type:text;not null"`
	UserID           string     `json:"user_id" gorm:"index;not null;size:255"`
	Tier             string     `json:"tier" gorm:"not null;size:20"`
	Status           string     `json:"status" gorm:"not null;size:20"`
	CurrentPeriodEnd *time.Time `json:"current_period_end,omitempty"`
	CreatedAt        time.Time  `json:"created_at" gorm:"not null"`
	UpdatedAt        time.Time  `json:"updated_at" gorm:"not null"`
}
