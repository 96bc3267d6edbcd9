package db_models

import "github.com/google/uuid"

type TransactionMessage struct {
	BaseModel
	TransactionID uuid.UUID  `gorm:"type:uuid;index" json:"transaction_id"`
	SenderID      *uuid.UUID `gorm:"type:uuid" json:"sender_id,omitempty"`
	Body          string     `json:"body"`
	IsSystem      bool       `json:"is_system"`
}

type TransactionRating struct {
	BaseModel
	TransactionID uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_rating_rater" json:"transaction_id"`
	RaterID       uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_rating_rater" json:"rater_id"`
	RatedID       uuid.UUID `gorm:"type:uuid;index" json:"rated_id"`
	Rating        int       `json:"rating"`
	Communication int       `json:"communication,omitempty"`
	Reliability   int       `json:"reliability,omitempty"`
	Quality       int       `json:"quality,omitempty"`
	Comment       string    `json:"comment,omitempty"`
}
