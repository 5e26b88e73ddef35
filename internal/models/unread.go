package models

// UnreadSnapshot is a per-request view of a user's unread counts.
type UnreadSnapshot struct {
	PerChat map[int]int `json:"per_chat"`
	Total   int         `json:"total"`
}
