package models

import "time"

// Unknown fills text fields the upstream profile did not provide.
const Unknown = "unknown"

const SourceExternal = "external"

type Candidate struct {
	ID              string    `json:"id"`
	FullName        string    `json:"full_name"`
	FirstName       string    `json:"first_name"`
	LastName        string    `json:"last_name"`
	Headline        string    `json:"headline"`
	Title           string    `json:"title"`
	Company         string    `json:"company"`
	Location        string    `json:"location"`
	Email           string    `json:"email,omitempty"`
	Phone           string    `json:"phone,omitempty"`
	SourceURL       string    `json:"source_url"`
	Skills          []string  `json:"skills,omitempty"`
	ExperienceYears float64   `json:"experience_years"`
	Summary         string    `json:"summary"`
	Source          string    `json:"source"`
	SourcingRunID   string    `json:"sourcing_run_id"`
	CreatedAt       time.Time `json:"created_at"`
}

// Known reports whether a text field carries a real value rather than the sentinel.
func Known(v string) bool {
	return v != "" && v != Unknown
}
