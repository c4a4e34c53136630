package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/intake"
	"github.com/vladislavdragonenkov/storefront/internal/service/receipt"
)

// Identity - данные, которыми покупатель подтверждает, что заказ его.
type Identity struct {
	Phone string
	Email string
}

// Matches сравнивает телефон по цифрам и email без учёта регистра.
// Достаточно совпадения одного из них.
func (id Identity) Matches(order domain.Order) bool {
	if digits := intake.Digits(id.Phone); digits != "" && digits == intake.Digits(order.Customer.Phone) {
		return true
	}
	email := strings.TrimSpace(id.Email)
	return email != "" && strings.EqualFold(email, strings.TrimSpace(order.Customer.Email))
}

// TrackView - публичное представление заказа без контактных данных.
type TrackView struct {
	Reference     string               `json:"reference"`
	Status        domain.OrderStatus   `json:"status"`
	PaymentStatus domain.PaymentStatus `json:"paymentStatus"`
	CreatedAt     time.Time            `json:"createdAt"`
	UpdatedAt     time.Time            `json:"updatedAt"`
	Items         []domain.LineItem    `json:"items"`
	Subtotal      float64              `json:"subtotal"`
	DeliveryFee   float64              `json:"deliveryFee"`
	GrandTotal    float64              `json:"grandTotal"`
	DeliveryZone  string               `json:"deliveryZone,omitempty"`
	Note          string               `json:"note,omitempty"`
}

func newTrackView(o domain.Order) TrackView {
	return TrackView{
		Reference:     o.Reference,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
		Items:         o.Items,
		Subtotal:      o.Subtotal,
		DeliveryFee:   o.DeliveryFee,
		GrandTotal:    o.GrandTotal,
		DeliveryZone:  o.Customer.DeliveryZone,
		Note:          o.Note,
	}
}

// Track возвращает заказ покупателю. Несовпадение идентичности неотличимо
// от отсутствия заказа.
func (s *Service) Track(ctx context.Context, reference string, id Identity) (TrackView, error) {
	order, err := s.findOwned(ctx, reference, id)
	if err != nil {
		return TrackView{}, err
	}
	return newTrackView(order), nil
}

// Receipt строит квитанцию по заказу покупателя. Возвращает PDF и имя файла.
func (s *Service) Receipt(ctx context.Context, reference string, id Identity) ([]byte, string, error) {
	order, err := s.findOwned(ctx, reference, id)
	if err != nil {
		return nil, "", err
	}
	pdf, err := s.render(ctx, order)
	if err != nil {
		s.logger.WithError(err).WithField("order_ref", order.Reference).Warn("receipt unavailable")
		return nil, "", err
	}
	return pdf, receipt.Filename(order), nil
}

func (s *Service) findOwned(ctx context.Context, reference string, id Identity) (domain.Order, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	order, err := s.find(ctx, domain.OrderFilter{Reference: reference})
	if err != nil {
		return domain.Order{}, err
	}
	if !id.Matches(order) {
		s.logger.WithField("order_ref", order.Reference).Info("identity mismatch on order lookup")
		return domain.Order{}, fmt.Errorf("%w: %w", domain.ErrOrderNotFound, domain.ErrIdentityMismatch)
	}
	return order, nil
}

// Timeline возвращает журнал заказа по идентификатору или номеру.
func (s *Service) Timeline(ctx context.Context, id string) ([]domain.TimelineEvent, error) {
	reference := strings.TrimSpace(id)
	if !isReference(reference) {
		order, err := s.resolve(ctx, reference)
		if err != nil {
			return nil, err
		}
		reference = order.Reference
	}
	if s.timeline == nil {
		return []domain.TimelineEvent{}, nil
	}

	ctx, cancel := withTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	events, err := s.timeline.List(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("list timeline: %w", err)
	}
	return events, nil
}

// Stats - сводка по заказам в хранилище.
type Stats struct {
	Total     int64                          `json:"total"`
	ByStatus  map[domain.OrderStatus]int64   `json:"byStatus"`
	ByPayment map[domain.PaymentStatus]int64 `json:"byPayment"`
}

// Stats считает заказы по статусам исполнения и оплаты.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	if s.store == nil {
		return Stats{}, fmt.Errorf("%w: store is not configured", domain.ErrPersistenceUnavailable)
	}

	ctx, cancel := withTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	stats := Stats{
		ByStatus:  make(map[domain.OrderStatus]int64, len(domain.OrderStatuses)),
		ByPayment: make(map[domain.PaymentStatus]int64, len(domain.PaymentStatuses)),
	}
	total, err := s.store.Count(ctx, domain.OrderFilter{})
	if err != nil {
		return Stats{}, fmt.Errorf("count orders: %w", err)
	}
	stats.Total = total

	for _, st := range domain.OrderStatuses {
		n, err := s.store.Count(ctx, domain.OrderFilter{Status: st})
		if err != nil {
			return Stats{}, fmt.Errorf("count orders by status %s: %w", st, err)
		}
		stats.ByStatus[st] = n
	}
	for _, ps := range domain.PaymentStatuses {
		n, err := s.store.Count(ctx, domain.OrderFilter{PaymentStatus: ps})
		if err != nil {
			return Stats{}, fmt.Errorf("count orders by payment %s: %w", ps, err)
		}
		stats.ByPayment[ps] = n
	}
	return stats, nil
}

// Ready проверяет хранилище для health-проверки.
func (s *Service) Ready(ctx context.Context) error {
	if s.store == nil {
		return fmt.Errorf("%w: store is not configured", domain.ErrPersistenceUnavailable)
	}
	return s.store.Ping(ctx)
}

func (s *Service) find(ctx context.Context, filter domain.OrderFilter) (domain.Order, error) {
	if s.store == nil {
		return domain.Order{}, fmt.Errorf("%w: store is not configured", domain.ErrPersistenceUnavailable)
	}
	ctx, cancel := withTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	order, err := s.store.FindOne(ctx, filter)
	if err != nil {
		if domain.IsNotFound(err) {
			return domain.Order{}, err
		}
		return domain.Order{}, fmt.Errorf("%w: %w", domain.ErrPersistenceUnavailable, err)
	}
	return order, nil
}
