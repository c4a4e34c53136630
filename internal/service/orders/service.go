// Package orders собирает конвейер обработки заказа: приём, загрузку подтверждения
// оплаты, сохранение, квитанцию и уведомления.
//
// Обязательна только нормализация. Все последующие шаги выполняются по принципу
// best effort: их сбой записывается в лог, timeline и метрики, но не меняет
// ответ клиенту.
package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/intake"
	"github.com/vladislavdragonenkov/storefront/internal/service/notify"
	"github.com/vladislavdragonenkov/storefront/internal/service/receipt"
)

// Стадии конвейера для метрик и трассировки.
const (
	stageNormalize = "normalize"
	stageUpload    = "upload"
	stagePersist   = "persist"
	stageReceipt   = "receipt"
	stageNotify    = "notify"
)

// ErrReceiptUnavailable - квитанцию не удалось построить.
var ErrReceiptUnavailable = errors.New("receipt unavailable")

// Config - тайм-ауты внешних вызовов конвейера.
type Config struct {
	StoreTimeout   time.Duration
	UploadTimeout  time.Duration
	ReceiptTimeout time.Duration
	// ReferenceAttempts - сколько раз генерировать новый номер при коллизии.
	ReferenceAttempts int
}

// DefaultConfig возвращает тайм-ауты по умолчанию.
func DefaultConfig() Config {
	return Config{
		StoreTimeout:      5 * time.Second,
		UploadTimeout:     20 * time.Second,
		ReceiptTimeout:    10 * time.Second,
		ReferenceAttempts: 3,
	}
}

// Deps - коллабораторы сервиса. Store, Timeline и Uploader могут быть nil.
type Deps struct {
	Normalizer *intake.Normalizer
	Store      domain.OrderStore
	Timeline   domain.TimelineRepository
	Uploader   domain.Uploader
	Renderer   *receipt.Renderer
	Dispatcher *notify.Dispatcher
	Metrics    *metrics.OrderMetrics
	Logger     *log.Entry
}

// Service - конвейер заказов.
type Service struct {
	cfg        Config
	normalizer *intake.Normalizer
	store      domain.OrderStore
	timeline   domain.TimelineRepository
	uploader   domain.Uploader
	renderer   *receipt.Renderer
	dispatcher *notify.Dispatcher
	metrics    *metrics.OrderMetrics
	logger     *log.Entry
	tracer     oteltrace.Tracer
	now        func() time.Time
}

// NewService создаёт сервис заказов.
func NewService(cfg Config, deps Deps) *Service {
	defaults := DefaultConfig()
	if cfg.ReferenceAttempts <= 0 {
		cfg.ReferenceAttempts = defaults.ReferenceAttempts
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.WithField("component", "orders")
	}
	normalizer := deps.Normalizer
	if normalizer == nil {
		normalizer = intake.NewNormalizer(intake.Config{})
	}
	renderer := deps.Renderer
	if renderer == nil {
		renderer = receipt.NewRenderer(receipt.DefaultConfig())
	}
	dispatcher := deps.Dispatcher
	if dispatcher == nil {
		dispatcher = notify.NewDispatcher(notify.DefaultConfig(), nil, nil, nil, notify.NewRunner(logger, deps.Metrics))
	}

	return &Service{
		cfg:        cfg,
		normalizer: normalizer,
		store:      deps.Store,
		timeline:   deps.Timeline,
		uploader:   deps.Uploader,
		renderer:   renderer,
		dispatcher: dispatcher,
		metrics:    deps.Metrics,
		logger:     logger,
		tracer:     otel.Tracer("storefront/orders"),
		now:        time.Now,
	}
}

// CreateResult - итог приёма заказа.
type CreateResult struct {
	Reference string
	// ID пуст, если заказ не удалось сохранить.
	ID        string
	ProofURL  string
	Persisted bool
	Outcomes  []notify.Outcome
}

// Create проводит заказ через весь конвейер. Ошибку возвращает только
// нормализация: после неё заказ считается принятым.
func (s *Service) Create(ctx context.Context, req intake.Request) (CreateResult, error) {
	s.metrics.RecordInFlightStarted()
	defer s.metrics.RecordInFlightFinished()

	ctx, span := s.tracer.Start(ctx, "orders.create")
	defer span.End()

	started := time.Now()
	order, err := s.normalizer.Normalize(req.Order)
	s.metrics.RecordStageDuration(stageNormalize, time.Since(started))
	if err != nil {
		s.metrics.RecordOrderRejected()
		span.SetStatus(codes.Error, err.Error())
		return CreateResult{}, err
	}
	span.SetAttributes(attribute.String("order.reference", order.Reference))

	// Заказ принят: дальнейшие шаги не должны обрываться из-за отключения клиента.
	ctx = context.WithoutCancel(ctx)
	logger := s.logger.WithField("order_ref", order.Reference)

	order.ProofURL = s.uploadProof(ctx, logger, req.Proof, order.Reference)

	hinted := strings.TrimSpace(req.Order.ReferenceHint) != ""
	if err := s.persist(ctx, logger, &order, hinted); err != nil {
		logger.WithError(err).Error("order not persisted, continuing in degraded mode")
		s.appendTimeline(ctx, domain.TimelineEvent{
			Reference: order.Reference,
			Type:      domain.TimelineOrderPersistFailed,
			Reason:    err.Error(),
		})
	} else {
		logger = logger.WithField("order_id", order.ID)
		s.appendTimeline(ctx, domain.TimelineEvent{Reference: order.Reference, Type: domain.TimelineOrderCreated})
	}
	s.metrics.RecordOrderCreated(order.Persisted())

	pdf := s.renderReceipt(ctx, logger, order)

	started = time.Now()
	outcomes := s.dispatcher.OrderCreated(ctx, order, pdf)
	s.metrics.RecordStageDuration(stageNotify, time.Since(started))
	s.recordOutcomes(ctx, order.Reference, outcomes)

	logger.WithFields(log.Fields{
		"persisted":   order.Persisted(),
		"grand_total": order.GrandTotal,
		"items":       order.ItemCount(),
	}).Info("order accepted")

	return CreateResult{
		Reference: order.Reference,
		ID:        order.ID,
		ProofURL:  order.ProofURL,
		Persisted: order.Persisted(),
		Outcomes:  outcomes,
	}, nil
}

func (s *Service) uploadProof(ctx context.Context, logger *log.Entry, proof *domain.ProofAttachment, reference string) string {
	if proof.Empty() {
		return ""
	}
	if s.uploader == nil {
		logger.Debug("proof attached but uploader is not configured")
		return ""
	}

	ctx, span := s.tracer.Start(ctx, "orders.upload_proof")
	defer span.End()
	started := time.Now()
	defer func() { s.metrics.RecordStageDuration(stageUpload, time.Since(started)) }()

	ctx, cancel := withTimeout(ctx, s.cfg.UploadTimeout)
	defer cancel()

	url, err := s.uploader.Upload(ctx, *proof, reference)
	if err != nil {
		span.RecordError(err)
		logger.WithError(err).Warn("proof upload failed")
		return ""
	}
	return url
}

// persist сохраняет заказ. При коллизии сгенерированного номера номер
// перевыпускается; коллизия номера, присланного клиентом, считается сбоем.
func (s *Service) persist(ctx context.Context, logger *log.Entry, order *domain.Order, hinted bool) error {
	if s.store == nil {
		return fmt.Errorf("%w: store is not configured", domain.ErrPersistenceUnavailable)
	}

	ctx, span := s.tracer.Start(ctx, "orders.persist")
	defer span.End()
	started := time.Now()
	defer func() { s.metrics.RecordStageDuration(stagePersist, time.Since(started)) }()

	for attempt := 1; ; attempt++ {
		id, err := s.create(ctx, *order)
		if err == nil {
			order.ID = id
			return nil
		}
		if !errors.Is(err, domain.ErrDuplicateReference) || hinted || attempt >= s.cfg.ReferenceAttempts {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("%w: %w", domain.ErrPersistenceUnavailable, err)
		}

		reference, refErr := s.normalizer.NewReference()
		if refErr != nil {
			return fmt.Errorf("%w: %w", domain.ErrPersistenceUnavailable, refErr)
		}
		logger.WithField("new_ref", reference).Warn("order reference collision, regenerating")
		order.Reference = reference
	}
}

func (s *Service) create(ctx context.Context, order domain.Order) (string, error) {
	ctx, cancel := withTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	return s.store.Create(ctx, order)
}

// renderReceipt возвращает nil, если квитанцию построить не удалось.
func (s *Service) renderReceipt(ctx context.Context, logger *log.Entry, order domain.Order) []byte {
	_, span := s.tracer.Start(ctx, "orders.render_receipt")
	defer span.End()
	started := time.Now()
	defer func() { s.metrics.RecordStageDuration(stageReceipt, time.Since(started)) }()

	pdf, err := s.render(ctx, order)
	if err != nil {
		span.RecordError(err)
		logger.WithError(err).Warn("receipt unavailable")
		return nil
	}
	return pdf
}

func (s *Service) render(ctx context.Context, order domain.Order) ([]byte, error) {
	type result struct {
		pdf []byte
		err error
	}

	ctx, cancel := withTimeout(ctx, s.cfg.ReceiptTimeout)
	defer cancel()

	done := make(chan result, 1)
	go func() {
		pdf, err := s.renderer.Render(order)
		done <- result{pdf: pdf, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("%w: %w", ErrReceiptUnavailable, r.err)
		}
		return r.pdf, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrReceiptUnavailable, ctx.Err())
	}
}

func (s *Service) recordOutcomes(ctx context.Context, reference string, outcomes []notify.Outcome) {
	for _, o := range outcomes {
		s.appendTimeline(ctx, domain.TimelineEvent{
			Reference: reference,
			Type:      domain.TimelineNotification,
			Channel:   string(o.Channel),
			Outcome:   string(o.Status),
			Reason:    o.Reason,
		})
	}
}

// appendTimeline пишет событие в журнал; ошибка журнала только логируется.
func (s *Service) appendTimeline(ctx context.Context, event domain.TimelineEvent) {
	if s.timeline == nil {
		return
	}
	if event.Occurred.IsZero() {
		event.Occurred = s.now().UTC()
	}

	ctx, cancel := withTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	if err := s.timeline.Append(ctx, event); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_ref": event.Reference,
			"event":     event.Type,
		}).Warn("failed to append timeline event")
		return
	}
	s.metrics.RecordTimelineEvent()
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
