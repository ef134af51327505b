package model

import "time"

// HistoryItem is a local-only record of one of the user's own claims.
// It never reaches the document store.
type HistoryItem struct {
	ID                   string `json:"id"`
	Media                Media  `json:"media"`
	Title                string `json:"title"`
	FinalDurationSeconds int64  `json:"finalDurationSeconds"`
	Timestamp            int64  `json:"timestamp"` // unix milliseconds
}

// Notification is an ephemeral user-facing message.
type Notification struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}
