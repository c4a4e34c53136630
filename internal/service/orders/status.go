package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/notify"
)

// Результаты административного обновления для метрик.
const (
	statusResultUpdated   = "updated"
	statusResultUnchanged = "unchanged"
	statusResultNotFound  = "not_found"
	statusResultError     = "error"
)

// StatusResult - итог административного обновления.
type StatusResult struct {
	Order    domain.Order
	Changes  []domain.Change
	Outcomes []notify.Outcome
}

// UpdateStatus применяет административный патч. Запись в хранилище обязательна:
// её ошибка возвращается вызывающему. Уведомление покупателя и событие
// отправляются после записи по принципу best effort и только при реальных изменениях.
// id может быть как идентификатором хранилища, так и номером заказа.
func (s *Service) UpdateStatus(ctx context.Context, id string, patch domain.StatusPatch) (StatusResult, error) {
	ctx, span := s.tracer.Start(ctx, "orders.update_status")
	defer span.End()

	if patch.Empty() {
		return StatusResult{}, domain.ErrEmptyPatch
	}
	if s.store == nil {
		return StatusResult{}, fmt.Errorf("%w: store is not configured", domain.ErrPersistenceUnavailable)
	}

	current, err := s.resolve(ctx, id)
	if err != nil {
		s.metrics.RecordStatusUpdate(statusResult(err))
		return StatusResult{}, err
	}
	id = current.ID
	span.SetAttributes(attribute.String("order.id", id))

	now := s.now().UTC()
	storeCtx, cancel := withTimeout(ctx, s.cfg.StoreTimeout)
	before, after, err := s.store.UpdateStatus(storeCtx, id, patch, now)
	cancel()
	if err != nil {
		s.metrics.RecordStatusUpdate(statusResult(err))
		if domain.IsNotFound(err) {
			return StatusResult{}, err
		}
		return StatusResult{}, fmt.Errorf("%w: %w", domain.ErrPersistenceUnavailable, err)
	}

	// Список изменений строится заново по состоянию до записи.
	scratch := before
	changes := patch.Apply(&scratch, now)

	logger := s.logger.WithFields(log.Fields{"order_ref": after.Reference, "order_id": after.ID})
	if len(changes) == 0 {
		s.metrics.RecordStatusUpdate(statusResultUnchanged)
		logger.Info("status patch changed nothing")
		return StatusResult{Order: after}, nil
	}
	s.metrics.RecordStatusUpdate(statusResultUpdated)

	ctx = context.WithoutCancel(ctx)
	s.appendTimeline(ctx, domain.TimelineEvent{
		Reference: after.Reference,
		Type:      domain.TimelineOrderStatusChanged,
		Reason:    describeChanges(changes),
	})

	pdf := s.renderReceipt(ctx, logger, after)
	outcomes := s.dispatcher.StatusChanged(ctx, after, changes, pdf)
	s.recordOutcomes(ctx, after.Reference, outcomes)

	logger.WithField("changes", describeChanges(changes)).Info("order status updated")
	return StatusResult{Order: after, Changes: changes, Outcomes: outcomes}, nil
}

// resolve находит заказ по идентификатору хранилища или по номеру. Номер с
// префиксом LWG- ищется сразу по номеру; любой другой ключ сначала проверяется
// как идентификатор, затем как номер, переданный клиентом при создании.
func (s *Service) resolve(ctx context.Context, key string) (domain.Order, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if isReference(key) {
		return s.find(ctx, domain.OrderFilter{Reference: key})
	}
	order, err := s.find(ctx, domain.OrderFilter{ID: key})
	if domain.IsNotFound(err) {
		return s.find(ctx, domain.OrderFilter{Reference: key})
	}
	return order, err
}

func isReference(id string) bool {
	return len(id) > len(domain.ReferencePrefix) &&
		strings.EqualFold(id[:len(domain.ReferencePrefix)], domain.ReferencePrefix)
}

func statusResult(err error) string {
	if errors.Is(err, domain.ErrOrderNotFound) {
		return statusResultNotFound
	}
	return statusResultError
}

func describeChanges(changes []domain.Change) string {
	parts := make([]string, 0, len(changes))
	for _, c := range changes {
		parts = append(parts, fmt.Sprintf("%s: %s -> %s", c.Field, c.From, c.To))
	}
	return strings.Join(parts, "; ")
}
