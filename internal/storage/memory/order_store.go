package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// orderStoreInMemory - in-memory документное хранилище заказов.
type orderStoreInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Order
	// byRef - уникальный индекс по номеру заказа (в нижнем регистре).
	byRef map[string]string
}

// NewOrderStore возвращает in-memory хранилище для локальной разработки и тестов.
func NewOrderStore() domain.OrderStore {
	return &orderStoreInMemory{
		items: make(map[string]domain.Order),
		byRef: make(map[string]string),
	}
}

// Create сохраняет новый документ, если номер заказа ещё не занят.
func (s *orderStoreInMemory) Create(_ context.Context, order domain.Order) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(order.Reference)
	if _, exists := s.byRef[key]; exists {
		return "", domain.ErrDuplicateReference
	}

	order.ID = uuid.NewString()
	// Копируем срезы и карты, чтобы вызывающий не мог изменить сохранённый документ.
	s.items[order.ID] = clone(order)
	s.byRef[key] = order.ID
	return order.ID, nil
}

// FindOne возвращает самый старый документ под фильтр.
func (s *orderStoreInMemory) FindOne(_ context.Context, filter domain.OrderFilter) (domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if filter.Reference != "" && filter.ID == "" {
		id, ok := s.byRef[strings.ToLower(filter.Reference)]
		if !ok {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		order := s.items[id]
		if !filter.Match(order) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return clone(order), nil
	}

	matched := make([]domain.Order, 0, 1)
	for _, order := range s.items {
		if filter.Match(order) {
			matched = append(matched, order)
		}
	}
	if len(matched) == 0 {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})
	return clone(matched[0]), nil
}

// UpdateStatus применяет патч к документу с указанным идентификатором.
func (s *orderStoreInMemory) UpdateStatus(_ context.Context, id string, patch domain.StatusPatch, now time.Time) (domain.Order, domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.items[id]
	if !ok {
		return domain.Order{}, domain.Order{}, domain.ErrOrderNotFound
	}
	before := clone(current)
	patch.Apply(&current, now)
	s.items[id] = current
	return before, clone(current), nil
}

// Count считает документы под фильтр.
func (s *orderStoreInMemory) Count(_ context.Context, filter domain.OrderFilter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, order := range s.items {
		if filter.Match(order) {
			n++
		}
	}
	return n, nil
}

// Ping всегда успешен.
func (s *orderStoreInMemory) Ping(context.Context) error {
	return nil
}

func clone(order domain.Order) domain.Order {
	if order.Items != nil {
		items := make([]domain.LineItem, len(order.Items))
		copy(items, order.Items)
		order.Items = items
	}
	if order.Customer.PaymentDetails != nil {
		details := make(map[string]string, len(order.Customer.PaymentDetails))
		for k, v := range order.Customer.PaymentDetails {
			details[k] = v
		}
		order.Customer.PaymentDetails = details
	}
	return order
}

var _ domain.OrderStore = (*orderStoreInMemory)(nil)
