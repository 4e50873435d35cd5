package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Queue names shared by producers and consumers.
const (
	QueueRecommendations = "recommendation-jobs"
	QueueEmails          = "email-jobs"
)

// BatchUser is the slice of a user's record carried inside a recommendation job.
type BatchUser struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Location string `json:"location"`
}

// NewBatchUser projects a user onto the batch payload shape.
func NewBatchUser(u *User) BatchUser {
	return BatchUser{ID: u.ID, Email: u.Email, Name: u.Name, Location: u.Location}
}

// RecommendationJob is the payload of the recommendation-jobs queue: one batch.
type RecommendationJob struct {
	BatchID   string      `json:"batchId"`
	Users     []BatchUser `json:"users"`
	Timestamp time.Time   `json:"timestamp"`
}

// Validate rejects payloads a worker cannot process.
func (j *RecommendationJob) Validate() error {
	if j.BatchID == "" || len(j.Users) == 0 {
		return ErrInvalidPayload
	}
	return nil
}

// MatchScore is a recommendation score in [0, 1]. It encodes as a JSON number
// and decodes from either a number or a numeric string.
type MatchScore float64

// UnmarshalJSON implements json.Unmarshaler.
func (s *MatchScore) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		f, err := strconv.ParseFloat(str, 64)
		if err != nil {
			return fmt.Errorf("match score %q: %w", str, err)
		}
		*s = MatchScore(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*s = MatchScore(f)
	return nil
}

// RoundScore clamps a raw score to [0, 1] with two decimals.
func RoundScore(score float64) MatchScore {
	score = math.Max(0, math.Min(score, 1))
	return MatchScore(math.Round(score*100) / 100)
}

// RecommendationDetails carries item facts rendered in the email.
type RecommendationDetails struct {
	Price      float64 `json:"price"`
	Rating     float64 `json:"rating"`
	Cuisine    string  `json:"cuisine,omitempty"`
	Discount   int     `json:"discount"`
	Restaurant string  `json:"restaurant,omitempty"`
	Platform   string  `json:"platform,omitempty"`
}

// Recommendation is one ranked entry.
type Recommendation struct {
	Name       string                 `json:"name"`
	Reason     string                 `json:"reason"`
	MatchScore MatchScore             `json:"matchScore"`
	Details    *RecommendationDetails `json:"details,omitempty"`
}

// EmailJob is the payload of the email-jobs queue: one user's email.
type EmailJob struct {
	UserID          int64            `json:"userId"`
	UserEmail       string           `json:"userEmail"`
	UserName        string           `json:"userName"`
	Recommendations []Recommendation `json:"recommendations"`
	Location        string           `json:"location"`
}

// Validate rejects payloads a worker cannot process.
func (j *EmailJob) Validate() error {
	if j.UserEmail == "" || len(j.Recommendations) == 0 {
		return ErrInvalidPayload
	}
	return nil
}

// UserOutcome is the per-user status recorded by a recommendation worker.
type UserOutcome string

const (
	OutcomeQueued            UserOutcome = "queued"
	OutcomeNoRecommendations UserOutcome = "no_recommendations"
	OutcomeFailed            UserOutcome = "error"
)

// UserResult records what happened to one user of a batch.
type UserResult struct {
	UserID int64       `json:"userId"`
	Status UserOutcome `json:"status"`
	Count  int         `json:"count,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// BatchResult aggregates the per-user outcomes of one recommendation job.
type BatchResult struct {
	BatchID   string       `json:"batchId"`
	Processed int          `json:"processed"`
	Queued    int          `json:"queued"`
	Failed    int          `json:"failed"`
	Empty     int          `json:"noRecommendations"`
	Results   []UserResult `json:"results"`
}

// Record appends a user result and updates the counters.
func (r *BatchResult) Record(res UserResult) {
	r.Results = append(r.Results, res)
	r.Processed++
	switch res.Status {
	case OutcomeQueued:
		r.Queued++
	case OutcomeFailed:
		r.Failed++
	case OutcomeNoRecommendations:
		r.Empty++
	}
}

// EmailResult is stored as the result of a completed email job.
type EmailResult struct {
	UserID    int64     `json:"userId"`
	Email     string    `json:"email"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}
