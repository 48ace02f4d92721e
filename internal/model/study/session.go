package study

import "time"

// Session is a persisted study unit pairing a title with its full source content.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	OwnerRef  string    `json:"ownerRef"`
	CreatedAt time.Time `json:"createdAt"`
}
