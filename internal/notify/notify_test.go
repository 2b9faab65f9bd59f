package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kolevas/tutoring-app/internal/domain"
)

type fakePublisher struct {
	publishFn func(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

func (f *fakePublisher) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	if f.publishFn == nil {
		panic("Publish not configured")
	}
	return f.publishFn(ctx, channel, message)
}

func sampleEvent() domain.Event {
	student := "s1"
	return domain.Event{
		Type:       domain.EventSessionBooked,
		SessionID:  uuid.MustParse("00000000-0000-0000-0000-000000000301"),
		TutorID:    "t1",
		StudentID:  &student,
		Subject:    "math",
		Date:       domain.MustDate("2026-01-05"),
		StartTime:  "10:00",
		EndTime:    "11:00",
		OccurredAt: time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestRedisNotifier_PublishesJSON(t *testing.T) {
	var gotChannel, gotPayload string
	pub := &fakePublisher{
		publishFn: func(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
			gotChannel = channel
			gotPayload, _ = message.(string)
			return redis.NewIntResult(1, nil)
		},
	}

	NewRedisNotifier(pub, "", nil).Notify(context.Background(), sampleEvent())

	if gotChannel != DefaultChannel {
		t.Fatalf("channel = %q, want %q", gotChannel, DefaultChannel)
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(gotPayload), &decoded); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if decoded["type"] != "session_booked" || decoded["student_id"] != "s1" || decoded["date"] != "2026-01-05" {
		t.Fatalf("payload = %v", decoded)
	}
}

func TestRedisNotifier_SwallowsPublishError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	pub := &fakePublisher{
		publishFn: func(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
			return redis.NewIntResult(0, errors.New("connection refused"))
		},
	}

	NewRedisNotifier(pub, "events", logger).Notify(context.Background(), sampleEvent())

	out := buf.String()
	if !strings.Contains(out, "event publish failed") || !strings.Contains(out, `"level":"WARN"`) {
		t.Fatalf("log = %s, want warn about publish failure", out)
	}
}

type countingNotifier struct{ n int }

func (c *countingNotifier) Notify(context.Context, domain.Event) { c.n++ }

func TestFanout(t *testing.T) {
	a, b := &countingNotifier{}, &countingNotifier{}
	Fanout{a, b}.Notify(context.Background(), sampleEvent())
	if a.n != 1 || b.n != 1 {
		t.Fatalf("calls = %d/%d, want 1/1", a.n, b.n)
	}
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	NewLogNotifier(slog.New(slog.NewJSONHandler(&buf, nil))).Notify(context.Background(), sampleEvent())
	if !strings.Contains(buf.String(), `"student_id":"s1"`) {
		t.Fatalf("log = %s, want student_id", buf.String())
	}
}
