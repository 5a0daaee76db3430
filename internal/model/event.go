package model

import "time"

// EventMode distinguishes events that carry stages and classifications.
type EventMode string

const (
	EventModeCompetitive EventMode = "competitive"
	EventModeSocial      EventMode = "social"
)

// Event is the root of the event → stage → result tree.
type Event struct {
	ID   string    `json:"id"`
	Name string    `json:"name,omitempty"`
	Mode EventMode `json:"mode"`
}

// HasClassifications reports whether the event carries stages and standings.
func (e Event) HasClassifications() bool {
	return e.Mode == EventModeCompetitive
}

// Stage is one dated sub-event of a competitive event (event_stages row).
type Stage struct {
	ID         string    `json:"id"`
	EventID    string    `json:"event_id"`
	Name       string    `json:"name"`
	StageOrder int       `json:"stage_order"`
	Date       time.Time `json:"date"`
}

// Profile is the display data joined by user_id. It plays no part in
// classification.
type Profile struct {
	ID        string `json:"id"`
	FullName  string `json:"full_name"`
	Email     string `json:"email,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// DisplayName returns the full name, falling back to the email and then to
// "Unknown".
func (p Profile) DisplayName() string {
	if p.FullName != "" {
		return p.FullName
	}
	if p.Email != "" {
		return p.Email
	}
	return "Unknown"
}
