package models

import "time"

// Listing is one enriched collected item persisted by a job run. The count of
// stored listings is what a job reports as jobs_stored.
type Listing struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	JobID          string     `gorm:"index;not null" json:"job_id"`
	Title          string     `gorm:"not null" json:"title"`
	Company        string     `json:"company"`
	Location       string     `json:"location"`
	URL            string     `json:"url"`
	Description    string     `json:"description"`
	RelevanceScore float64    `json:"relevance_score"` // analyzer score (0-100)
	Recommendation string     `json:"recommendation"`  // analyzer's one-line verdict
	PostedAt       *time.Time `json:"posted_at"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
}
