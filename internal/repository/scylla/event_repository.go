package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"eventgate/internal/model"
	"eventgate/internal/util"
)

var ErrEventNotFound = errors.New("event not found")

// EventRepository is the persistent store of events and their PIN hashes.
type EventRepository interface {
	CreateEvent(ctx context.Context, event *model.Event) error
	GetEventByID(ctx context.Context, eventID string) (*model.Event, error)
	UpdateEventPIN(ctx context.Context, eventID string, pinHash model.HashedCode) error
	DeleteEvent(ctx context.Context, eventID string) error
}

type eventRepository struct {
	client *ScyllaClient
}

func NewEventRepository(client *ScyllaClient) EventRepository {
	return &eventRepository{client: client}
}

func (r *eventRepository) CreateEvent(ctx context.Context, event *model.Event) error {
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	event.CreatedAt = time.Now().UTC()

	query := r.client.Session.Query(r.client.Prepared.CreateEvent.Statement(),
		event.EventID, event.Name,
		event.PINHash.Hash, event.PINHash.Salt, event.PINHash.Algorithm,
		event.CreatedAt, nil).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		util.Error("Failed to create event",
			zap.String("event_id", event.EventID),
			zap.Error(err))
		return fmt.Errorf("failed to create event: %w", err)
	}

	util.Info("Event created",
		zap.String("event_id", event.EventID),
		zap.String("name", event.Name))

	return nil
}

func (r *eventRepository) GetEventByID(ctx context.Context, eventID string) (*model.Event, error) {
	event := &model.Event{}

	query := r.client.Session.Query(r.client.Prepared.GetEventByID.Statement(), eventID).WithContext(ctx)

	err := r.client.ScanWithRetry(query,
		&event.EventID, &event.Name,
		&event.PINHash.Hash, &event.PINHash.Salt, &event.PINHash.Algorithm,
		&event.CreatedAt, &event.UpdatedAt)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
		}
		util.Error("Failed to get event",
			zap.String("event_id", eventID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get event: %w", err)
	}

	return event, nil
}

func (r *eventRepository) UpdateEventPIN(ctx context.Context, eventID string, pinHash model.HashedCode) error {
	now := time.Now().UTC()

	query := r.client.Session.Query(r.client.Prepared.UpdateEventPIN.Statement(),
		pinHash.Hash, pinHash.Salt, pinHash.Algorithm, now, eventID).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		util.Error("Failed to update event PIN",
			zap.String("event_id", eventID),
			zap.Error(err))
		return fmt.Errorf("failed to update event PIN: %w", err)
	}

	util.Info("Event PIN updated", zap.String("event_id", eventID))
	return nil
}

func (r *eventRepository) DeleteEvent(ctx context.Context, eventID string) error {
	query := r.client.Session.Query(r.client.Prepared.DeleteEvent.Statement(), eventID).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		util.Error("Failed to delete event",
			zap.String("event_id", eventID),
			zap.Error(err))
		return fmt.Errorf("failed to delete event: %w", err)
	}

	util.Info("Event deleted", zap.String("event_id", eventID))
	return nil
}
