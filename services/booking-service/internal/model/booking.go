package model

import "time"

type Booking struct {
	ID            string
	ProviderID    string
	ServiceID     string
	ParticipantID string
	ScheduledAt   time.Time
	Status        string
	Note          string
	CancelledAt   *time.Time
	CancelReason  string
	CreatedAt     time.Time
}
