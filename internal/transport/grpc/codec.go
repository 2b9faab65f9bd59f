package grpc

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/kolevas/tutoring-app/internal/domain"
)

// requestFields reads typed values out of a Struct request. The first
// malformed field is kept in err.
type requestFields struct {
	fields map[string]*structpb.Value
	err    error
}

func fieldsOf(req *structpb.Struct) *requestFields {
	return &requestFields{fields: req.GetFields()}
}

func (r *requestFields) fail(format string, args ...any) {
	if r.err == nil {
		r.err = fmt.Errorf(format, args...)
	}
}

func (r *requestFields) has(key string) bool {
	v, ok := r.fields[key]
	if !ok {
		return false
	}
	_, isNull := v.GetKind().(*structpb.Value_NullValue)
	return !isNull
}

func (r *requestFields) str(key string) string {
	if !r.has(key) {
		return ""
	}
	s, ok := r.fields[key].GetKind().(*structpb.Value_StringValue)
	if !ok {
		r.fail("%s must be a string", key)
		return ""
	}
	return strings.TrimSpace(s.StringValue)
}

func (r *requestFields) optStr(key string) *string {
	if !r.has(key) {
		return nil
	}
	s := r.str(key)
	return &s
}

func (r *requestFields) optInt(key string) *int {
	if !r.has(key) {
		return nil
	}
	n, ok := r.fields[key].GetKind().(*structpb.Value_NumberValue)
	if !ok || n.NumberValue != math.Trunc(n.NumberValue) {
		r.fail("%s must be an integer", key)
		return nil
	}
	v := int(n.NumberValue)
	return &v
}

func (r *requestFields) optBool(key string) *bool {
	if !r.has(key) {
		return nil
	}
	b, ok := r.fields[key].GetKind().(*structpb.Value_BoolValue)
	if !ok {
		r.fail("%s must be a boolean", key)
		return nil
	}
	v := b.BoolValue
	return &v
}

func (r *requestFields) id(key string) uuid.UUID {
	raw := r.str(key)
	id, err := uuid.Parse(raw)
	if err != nil {
		r.fail("%s must be a UUID", key)
		return uuid.Nil
	}
	return id
}

func sessionValue(s domain.Session) map[string]any {
	var student any
	if s.StudentID != nil {
		student = *s.StudentID
	}
	return map[string]any{
		"id":           s.ID.String(),
		"tutor_id":     s.TutorID,
		"student_id":   student,
		"title":        s.Title,
		"subject":      s.Subject,
		"description":  s.Description,
		"notes":        s.Notes,
		"meeting_link": s.MeetingLink,
		"date":         s.Date.String(),
		"start_time":   s.StartTime.String(),
		"end_time":     s.EndTime.String(),
		"status":       string(s.Status),
		"created_at":   formatTime(s.CreatedAt),
		"updated_at":   formatTime(s.UpdatedAt),
	}
}

func ruleValue(r domain.AvailabilityRule) map[string]any {
	out := map[string]any{
		"id":            r.ID.String(),
		"tutor_id":      r.TutorID,
		"weekday":       nil,
		"specific_date": nil,
		"start_time":    r.Window.Start.String(),
		"end_time":      r.Window.End.String(),
		"timezone":      r.Timezone,
		"enabled":       r.Enabled,
		"created_at":    formatTime(r.CreatedAt),
		"updated_at":    formatTime(r.UpdatedAt),
	}
	switch rec := r.Recurrence.(type) {
	case domain.Recurring:
		out["weekday"] = float64(rec.Weekday)
	case domain.Specific:
		out["specific_date"] = rec.Date.String()
	}
	return out
}

func windowValue(w domain.TimeWindow) map[string]any {
	return map[string]any{
		"date":       w.Date.String(),
		"start_time": w.Start.String(),
		"end_time":   w.End.String(),
	}
}

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func sessionStruct(s domain.Session) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"session": sessionValue(s)})
}

func sessionsStruct(sessions []domain.Session) (*structpb.Struct, error) {
	list := make([]any, 0, len(sessions))
	for _, s := range sessions {
		list = append(list, sessionValue(s))
	}
	return structpb.NewStruct(map[string]any{"sessions": list})
}

func ruleStruct(r domain.AvailabilityRule) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"rule": ruleValue(r)})
}

func rulesStruct(rules []domain.AvailabilityRule) (*structpb.Struct, error) {
	list := make([]any, 0, len(rules))
	for _, r := range rules {
		list = append(list, ruleValue(r))
	}
	return structpb.NewStruct(map[string]any{"rules": list})
}

func windowsStruct(windows []domain.TimeWindow) (*structpb.Struct, error) {
	list := make([]any, 0, len(windows))
	for _, w := range windows {
		list = append(list, windowValue(w))
	}
	return structpb.NewStruct(map[string]any{"windows": list})
}
