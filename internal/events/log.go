package events

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/deepresearch/backend/internal/metrics"
	"github.com/deepresearch/backend/internal/storage/models"
	"github.com/deepresearch/backend/internal/storage/sqlite"
	"github.com/deepresearch/backend/pkg/logger"
)

const (
	streamBatchSize     = 10
	DefaultPollInterval = time.Second
)

// Log is the append-only event log of every session. The store is the
// source of truth; the notifier only shortens the wait between polls.
type Log struct {
	store        *sqlite.Client
	notifier     Notifier
	pollInterval time.Duration
}

func NewLog(store *sqlite.Client, notifier Notifier, pollInterval time.Duration) *Log {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Log{store: store, notifier: notifier, pollInterval: pollInterval}
}

func (l *Log) Emit(ctx context.Context, sessionID string, eventType models.EventType, payload map[string]interface{}) error {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	event := &models.Event{
		SessionID: sessionID,
		Type:      eventType,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	if err := l.store.AppendEvent(event); err != nil {
		return fmt.Errorf("failed to emit %s event: %w", eventType, err)
	}
	metrics.EventsEmitted.WithLabelValues(string(eventType)).Inc()

	l.Wake(ctx, sessionID)
	return nil
}

// Wake nudges stream readers of a session, e.g. after a status change that
// was not accompanied by an event.
func (l *Log) Wake(ctx context.Context, sessionID string) {
	if l.notifier == nil {
		return
	}
	if err := l.notifier.Publish(ctx, sessionID); err != nil {
		logger.Debug("Event notification failed",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
	}
}

// Stream yields the session's events after afterID in creation order until
// the session is terminal and every event has been yielded. A yield error
// or context cancellation ends the stream early.
func (l *Log) Stream(ctx context.Context, sessionID string, afterID int64, yield func(models.Event) error) error {
	var wake <-chan struct{}
	if l.notifier != nil {
		ch, cancel := l.notifier.Subscribe(ctx, sessionID)
		defer cancel()
		wake = ch
	}

	cursor := afterID
	timer := time.NewTimer(l.pollInterval)
	defer timer.Stop()

	for {
		batch, err := l.store.ListEventsAfter(sessionID, cursor, streamBatchSize)
		if err != nil {
			return err
		}
		for _, event := range batch {
			if err := yield(event); err != nil {
				return err
			}
			cursor = event.ID
		}
		if len(batch) == streamBatchSize {
			continue
		}

		session, err := l.store.GetSession(sessionID)
		if err != nil {
			return err
		}
		if session.Status.IsTerminal() {
			// Terminal events are written before the status flips, so one
			// more read drains everything.
			rest, err := l.store.ListEventsAfter(sessionID, cursor, streamBatchSize)
			if err != nil {
				return err
			}
			if len(rest) == 0 {
				return nil
			}
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(l.pollInterval)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wake:
		case <-timer.C:
		}
	}
}
