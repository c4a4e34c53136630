// Package notify рассылает уведомления о заказах по независимым каналам.
//
// Каждый канал выполняется через Runner.Attempt: попытка ограничена по времени,
// паника и ошибка превращаются в Outcome, и ни один исход не влияет на соседние
// каналы и на ответ клиенту.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

// Channel - канал уведомления.
type Channel string

const (
	ChannelAdminEmail      Channel = "admin_email"
	ChannelCustomerEmail   Channel = "customer_email"
	ChannelAdminMessage    Channel = "admin_message"
	ChannelCustomerMessage Channel = "customer_message"
	ChannelEvents          Channel = "order_events"
)

// Status - итог попытки.
type Status string

const (
	StatusSent    Status = "sent"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Outcome - результат одной попытки уведомления.
type Outcome struct {
	Channel  Channel
	Status   Status
	Reason   string
	Err      error
	Duration time.Duration
}

type skipError struct {
	reason string
}

func (e *skipError) Error() string { return "skipped: " + e.reason }

// Skip возвращается из функции попытки, когда канал не применим к заказу.
func Skip(reason string) error {
	return &skipError{reason: reason}
}

// Runner выполняет попытки уведомлений.
type Runner struct {
	logger  *log.Entry
	metrics *metrics.OrderMetrics
	tracer  oteltrace.Tracer
}

// NewRunner создаёт Runner. logger и orderMetrics могут быть nil.
func NewRunner(logger *log.Entry, orderMetrics *metrics.OrderMetrics) *Runner {
	if logger == nil {
		logger = log.WithField("component", "notify")
	}
	return &Runner{
		logger:  logger,
		metrics: orderMetrics,
		tracer:  otel.Tracer("storefront/notify"),
	}
}

// WithFields возвращает копию Runner с дополнительными полями логирования.
func (r *Runner) WithFields(fields log.Fields) *Runner {
	cp := *r
	cp.logger = r.logger.WithFields(fields)
	return &cp
}

// Attempt выполняет fn не дольше timeout. Ошибка, паника и истечение времени
// превращаются в StatusFailed, Skip - в StatusSkipped. Attempt никогда не паникует
// и возвращается не позже timeout, даже если fn игнорирует контекст.
func (r *Runner) Attempt(ctx context.Context, channel Channel, timeout time.Duration, fn func(context.Context) error) Outcome {
	ctx, span := r.tracer.Start(ctx, "notify."+string(channel),
		oteltrace.WithAttributes(attribute.String("notify.channel", string(channel))))
	defer span.End()

	started := time.Now()
	err := runBounded(ctx, timeout, fn)
	outcome := Outcome{Channel: channel, Duration: time.Since(started)}

	entry := r.logger.WithFields(log.Fields{
		"channel":     channel,
		"duration_ms": outcome.Duration.Milliseconds(),
	})

	var skip *skipError
	switch {
	case err == nil:
		outcome.Status = StatusSent
		entry.WithField("outcome", outcome.Status).Info("notification sent")
	case errors.As(err, &skip):
		outcome.Status = StatusSkipped
		outcome.Reason = skip.reason
		entry.WithFields(log.Fields{"outcome": outcome.Status, "reason": skip.reason}).Debug("notification skipped")
	default:
		outcome.Status = StatusFailed
		outcome.Err = fmt.Errorf("%w: %s: %w", domain.ErrNotificationFailed, channel, err)
		outcome.Reason = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		entry.WithError(err).WithField("outcome", outcome.Status).Warn("notification failed")
	}
	span.SetAttributes(attribute.String("notify.outcome", string(outcome.Status)))
	r.metrics.RecordNotification(string(channel), string(outcome.Status), outcome.Duration)

	return outcome
}

func runBounded(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fmt.Errorf("panic: %v", rec)
			}
		}()
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("attempt aborted: %w", ctx.Err())
	}
}
