package models

import "time"

type WeightedSkill struct {
	Name   string  `json:"name" yaml:"name"`
	Weight float64 `json:"weight" yaml:"weight"`
}

// NAP is the need/authority/pain summary of a hiring request.
type NAP struct {
	Need      string `json:"need" yaml:"need"`
	Authority string `json:"authority" yaml:"authority"`
	Pain      string `json:"pain" yaml:"pain"`
}

// Job is the requirement context candidates are scored against.
type Job struct {
	ID              string          `json:"id" yaml:"id"`
	Title           string          `json:"title" yaml:"title"`
	Industry        string          `json:"industry" yaml:"industry"`
	Location        string          `json:"location" yaml:"location"`
	Skills          []WeightedSkill `json:"skills" yaml:"skills"`
	ExperienceYears float64         `json:"experience_years" yaml:"experience_years"`
	NAP             NAP             `json:"nap" yaml:"nap"`
}

type LinkStatus string

const (
	LinkStatusSourced     LinkStatus = "sourced"
	LinkStatusRecommended LinkStatus = "recommended"
)

// Link attaches a candidate to a job's review pipeline.
type Link struct {
	JobID          string     `json:"job_id"`
	CandidateID    string     `json:"candidate_id"`
	Status         LinkStatus `json:"status"`
	Score          *int       `json:"score,omitempty"`
	MatchIndicator *float64   `json:"match_indicator,omitempty"`
	ScoreStrategy  string     `json:"score_strategy,omitempty"`
	Reasoning      string     `json:"reasoning,omitempty"`
	Strengths      []string   `json:"strengths,omitempty"`
	Concerns       []string   `json:"concerns,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}
