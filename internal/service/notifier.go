package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"export-worker-service/internal/entity"
)

type EventType string

const (
	EventStarted   EventType = "started"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventRetry     EventType = "retry"
)

type Notification struct {
	Type      string           `json:"type"`
	Event     EventType        `json:"event"`
	JobID     string           `json:"jobId"`
	Owner     string           `json:"-"`
	Status    entity.JobStatus `json:"status"`
	Message   string           `json:"message"`
	ActionURL string           `json:"actionUrl,omitempty"`
}

// Notifier delivers lifecycle events. Implementations must never block the
// executor and must swallow their own delivery errors.
type Notifier interface {
	Notify(ev Notification)
}

// EventMessage builds the default human-readable text for an event. Failure
// events usually carry the classified user message instead.
func EventMessage(ev EventType, kind entity.ExportKind) string {
	switch ev {
	case EventStarted:
		return fmt.Sprintf("Your %s export has started.", kind)
	case EventCompleted:
		return fmt.Sprintf("Your %s export is ready! Download it here.", kind)
	case EventRetry:
		return fmt.Sprintf("Your %s export hit a snag. We are retrying it automatically.", kind)
	case EventFailed:
		return fmt.Sprintf("Your %s export failed. Please try again or contact support.", kind)
	default:
		return fmt.Sprintf("Your %s export was updated.", kind)
	}
}

// redisNotifier publishes events on a per-owner pub/sub channel. Delivery is
// fire-and-forget: a detached goroutine with its own deadline, errors logged
// and dropped.
type redisNotifier struct {
	rdb     *redis.Client
	channel string
	timeout time.Duration
}

func NewRedisNotifier(rdb *redis.Client, channel string) Notifier {
	return &redisNotifier{rdb: rdb, channel: channel, timeout: 5 * time.Second}
}

func (n *redisNotifier) Notify(ev Notification) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()

		ev.Type = "export"
		payload, err := json.Marshal(ev)
		if err != nil {
			log.Printf("[notifier] job_id=%s event=%s marshal_error=%v", ev.JobID, ev.Event, err)
			return
		}
		if err := n.rdb.Publish(ctx, n.channel+":"+ev.Owner, payload).Err(); err != nil {
			log.Printf("[notifier] job_id=%s event=%s publish_error=%v", ev.JobID, ev.Event, err)
		}
	}()
}

// NopNotifier drops all events.
type NopNotifier struct{}

func (NopNotifier) Notify(Notification) {}
