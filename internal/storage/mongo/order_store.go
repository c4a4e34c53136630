package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// orderDocument - представление заказа в коллекции. referenceKey хранит номер
// в нижнем регистре для регистронезависимого уникального индекса.
type orderDocument struct {
	ID           primitive.ObjectID `bson:"_id"`
	ReferenceKey string             `bson:"referenceKey"`
	domain.Order `bson:",inline"`
}

func (d orderDocument) toDomain() domain.Order {
	order := d.Order
	order.ID = d.ID.Hex()
	return order
}

type orderStore struct {
	*Store
	orders *mongo.Collection
}

// NewOrderStore создаёт MongoDB-реализацию OrderStore.
func NewOrderStore(store *Store) domain.OrderStore {
	return &orderStore{Store: store, orders: store.db.Collection(ordersCollection)}
}

func (s *orderStore) Create(ctx context.Context, order domain.Order) (string, error) {
	doc := orderDocument{
		ID:           primitive.NewObjectID(),
		ReferenceKey: strings.ToLower(order.Reference),
		Order:        order,
	}
	if _, err := s.orders.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return "", domain.ErrDuplicateReference
		}
		return "", fmt.Errorf("insert order: %w", err)
	}
	return doc.ID.Hex(), nil
}

func (s *orderStore) FindOne(ctx context.Context, filter domain.OrderFilter) (domain.Order, error) {
	query, ok := toQuery(filter)
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}

	var doc orderDocument
	opts := options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	err := s.orders.FindOne(ctx, query, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("find order: %w", err)
	}
	return doc.toDomain(), nil
}

// UpdateStatus читает документ и записывает его обратно с условием на updatedAt,
// чтобы параллельные правки не затирали друг друга.
func (s *orderStore) UpdateStatus(ctx context.Context, id string, patch domain.StatusPatch, now time.Time) (domain.Order, domain.Order, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return domain.Order{}, domain.Order{}, domain.ErrOrderNotFound
	}

	var doc orderDocument
	err = s.orders.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Order{}, domain.Order{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, domain.Order{}, fmt.Errorf("load order for update: %w", err)
	}

	before := doc.toDomain()
	after := before
	patch.Apply(&after, now)

	set := bson.M{"updatedAt": after.UpdatedAt}
	if patch.Status != nil {
		set["status"] = after.Status
	}
	if patch.PaymentStatus != nil {
		set["paymentStatus"] = after.PaymentStatus
	}
	if patch.Note != nil {
		set["note"] = after.Note
	}

	res, err := s.orders.UpdateOne(ctx,
		bson.M{"_id": oid, "updatedAt": doc.UpdatedAt},
		bson.M{"$set": set},
	)
	if err != nil {
		return domain.Order{}, domain.Order{}, fmt.Errorf("update order status: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.Order{}, domain.Order{}, fmt.Errorf("update order status: %s changed concurrently", id)
	}
	return before, after, nil
}

func (s *orderStore) Count(ctx context.Context, filter domain.OrderFilter) (int64, error) {
	query, ok := toQuery(filter)
	if !ok {
		return 0, nil
	}
	n, err := s.orders.CountDocuments(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return n, nil
}

// toQuery переводит фильтр в запрос. ok=false, если ID не является ObjectID.
func toQuery(filter domain.OrderFilter) (bson.M, bool) {
	query := bson.M{}
	if filter.ID != "" {
		oid, err := primitive.ObjectIDFromHex(filter.ID)
		if err != nil {
			return nil, false
		}
		query["_id"] = oid
	}
	if filter.Reference != "" {
		query["referenceKey"] = strings.ToLower(filter.Reference)
	}
	if filter.Status != "" {
		query["status"] = filter.Status
	}
	if filter.PaymentStatus != "" {
		query["paymentStatus"] = filter.PaymentStatus
	}
	return query, true
}

var _ domain.OrderStore = (*orderStore)(nil)
