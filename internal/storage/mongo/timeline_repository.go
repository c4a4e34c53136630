package mongo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type timelineDocument struct {
	ReferenceKey         string `bson:"referenceKey"`
	domain.TimelineEvent `bson:",inline"`
}

type timelineRepository struct {
	events *mongo.Collection
}

// NewTimelineRepository создаёт MongoDB-реализацию TimelineRepository.
func NewTimelineRepository(store *Store) domain.TimelineRepository {
	return &timelineRepository{events: store.db.Collection(timelineCollection)}
}

func (r *timelineRepository) Append(ctx context.Context, event domain.TimelineEvent) error {
	if event.Occurred.IsZero() {
		event.Occurred = time.Now().UTC()
	}
	doc := timelineDocument{ReferenceKey: strings.ToLower(event.Reference), TimelineEvent: event}
	if _, err := r.events.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("append timeline event: %w", err)
	}
	return nil
}

func (r *timelineRepository) List(ctx context.Context, reference string) ([]domain.TimelineEvent, error) {
	cur, err := r.events.Find(ctx,
		bson.M{"referenceKey": strings.ToLower(reference)},
		options.Find().SetSort(bson.D{{Key: "occurred", Value: 1}, {Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("list timeline events: %w", err)
	}
	defer cur.Close(ctx)

	events := make([]domain.TimelineEvent, 0)
	for cur.Next(ctx) {
		var doc timelineDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode timeline event: %w", err)
		}
		events = append(events, doc.TimelineEvent)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("iterate timeline events: %w", err)
	}
	return events, nil
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
