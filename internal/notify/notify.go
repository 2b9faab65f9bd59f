package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/kolevas/tutoring-app/internal/domain"
)

const DefaultChannel = "tutoring.session_events"

// Publisher is the slice of *redis.Client the notifier needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisNotifier publishes every event as JSON on one pub/sub channel.
// Delivery failures are logged and dropped.
type RedisNotifier struct {
	pub     Publisher
	channel string
	log     *slog.Logger
}

func NewRedisNotifier(pub Publisher, channel string, logger *slog.Logger) *RedisNotifier {
	if strings.TrimSpace(channel) == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisNotifier{
		pub:     pub,
		channel: channel,
		log:     logger.With(slog.String("component", "notify.redis")),
	}
}

func (n *RedisNotifier) Notify(ctx context.Context, evt domain.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		n.log.Warn("event marshal failed", slog.Any("err", err), slog.String("event", string(evt.Type)))
		return
	}

	receivers, err := n.pub.Publish(ctx, n.channel, string(data)).Result()
	if err != nil {
		n.log.Warn("event publish failed",
			slog.Any("err", err),
			slog.String("event", string(evt.Type)),
			slog.String("session_id", evt.SessionID.String()),
		)
		return
	}

	n.log.Debug("event published",
		slog.String("event", string(evt.Type)),
		slog.String("session_id", evt.SessionID.String()),
		slog.Int64("receivers", receivers),
	)
}

// LogNotifier writes events to the log. Used when no broker is configured.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{log: logger.With(slog.String("component", "notify.log"))}
}

func (n *LogNotifier) Notify(ctx context.Context, evt domain.Event) {
	attrs := []any{
		slog.String("event", string(evt.Type)),
		slog.String("session_id", evt.SessionID.String()),
		slog.String("tutor_id", evt.TutorID),
		slog.String("date", evt.Date.String()),
		slog.String("start_time", evt.StartTime),
		slog.String("end_time", evt.EndTime),
	}
	if evt.StudentID != nil {
		attrs = append(attrs, slog.String("student_id", *evt.StudentID))
	}
	n.log.Info("session event", attrs...)
}

// Fanout delivers each event to every notifier in order.
type Fanout []domain.Notifier

func (f Fanout) Notify(ctx context.Context, evt domain.Event) {
	for _, n := range f {
		n.Notify(ctx, evt)
	}
}
