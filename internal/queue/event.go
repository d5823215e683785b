package queue

import "time"

// Queue names.  Both queues are durable.
const (
	UserProfilesQueue = "user_profiles"
	EmailQueue        = "notifications.email"
)

// UserRegisteredEvent is published after signup so the profiles service
// can create the matching profile without calling back into auth.
type UserRegisteredEvent struct {
	UserID       string    `json:"user_id"`
	Login        string    `json:"login"`
	Email        string    `json:"email"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	RegisteredAt time.Time `json:"registered_at"`
}

// EmailMessage is a rendered email waiting for delivery by the
// notifications service.
type EmailMessage struct {
	Kind    string `json:"kind"` // "confirmation" or "reset_password"
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}
