package models

import (
	"time"

	"github.com/google/uuid"
)

// Feedback statuses for correction records awaiting review.
const (
	FeedbackStatusPending  = "pending"
	FeedbackStatusApproved = "approved"
	FeedbackStatusRejected = "rejected"
)

// ReportFeedback is a correction signal captured from conversation text.
// Corrections are never written to knowledge directly; a person reviews them
// first. Stored in engine_report_feedback.
type ReportFeedback struct {
	ID         uuid.UUID `json:"id"`
	CustomerID uuid.UUID `json:"customer_id"`
	Text       string    `json:"text"`   // the user-authored correction phrase
	Status     string    `json:"status"` // 'pending', 'approved', 'rejected'
	CreatedAt  time.Time `json:"created_at"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`
}
