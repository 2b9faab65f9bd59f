package http

import (
	"time"

	"github.com/kolevas/tutoring-app/internal/domain"
)

type sessionResponse struct {
	ID          string    `json:"id"`
	TutorID     string    `json:"tutor_id"`
	Title       string    `json:"title,omitempty"`
	Subject     string    `json:"subject"`
	Description string    `json:"description,omitempty"`
	Date        string    `json:"date"`
	StartTime   string    `json:"start_time"`
	EndTime     string    `json:"end_time"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// Public listings leave out the student, notes and meeting link.
func toSessionResponse(s domain.Session) sessionResponse {
	return sessionResponse{
		ID:          s.ID.String(),
		TutorID:     s.TutorID,
		Title:       s.Title,
		Subject:     s.Subject,
		Description: s.Description,
		Date:        s.Date.String(),
		StartTime:   s.StartTime.String(),
		EndTime:     s.EndTime.String(),
		Status:      string(s.Status),
		CreatedAt:   s.CreatedAt.UTC(),
	}
}

type ruleResponse struct {
	ID           string  `json:"id"`
	TutorID      string  `json:"tutor_id"`
	Weekday      *int    `json:"weekday"`
	SpecificDate *string `json:"specific_date"`
	StartTime    string  `json:"start_time"`
	EndTime      string  `json:"end_time"`
	Timezone     string  `json:"timezone"`
}

func toRuleResponse(r domain.AvailabilityRule) ruleResponse {
	out := ruleResponse{
		ID:        r.ID.String(),
		TutorID:   r.TutorID,
		StartTime: r.Window.Start.String(),
		EndTime:   r.Window.End.String(),
		Timezone:  r.Timezone,
	}
	switch rec := r.Recurrence.(type) {
	case domain.Recurring:
		wd := int(rec.Weekday)
		out.Weekday = &wd
	case domain.Specific:
		d := rec.Date.String()
		out.SpecificDate = &d
	}
	return out
}

type windowResponse struct {
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}
