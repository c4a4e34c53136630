package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/intake"
	"github.com/vladislavdragonenkov/storefront/internal/service/receipt"
)

// Config - получатели, шаблоны и тайм-ауты каналов.
type Config struct {
	Brand    string
	Currency string

	AdminEmails []string
	AdminPhone  string

	// OrderTemplate - имя заранее согласованного шаблона мессенджера.
	// Пустое имя означает, что сразу отправляется свободный текст.
	OrderTemplate    string
	TemplateLanguage string

	EmailTimeout   time.Duration
	MessageTimeout time.Duration
	EventTimeout   time.Duration
}

// DefaultConfig возвращает конфигурацию по умолчанию.
func DefaultConfig() Config {
	return Config{
		Brand:            "Storefront",
		Currency:         "SLE",
		TemplateLanguage: "en_US",
		EmailTimeout:     15 * time.Second,
		MessageTimeout:   10 * time.Second,
		EventTimeout:     5 * time.Second,
	}
}

// Dispatcher рассылает уведомления о заказе по всем каналам независимо.
type Dispatcher struct {
	cfg       Config
	mailer    domain.Mailer
	messenger domain.Messenger
	events    domain.EventPublisher
	runner    *Runner
	tpl       templates
	now       func() time.Time
}

// NewDispatcher создаёт Dispatcher. Любой из mailer, messenger, events может быть nil:
// соответствующие каналы тогда завершаются со статусом skipped.
func NewDispatcher(cfg Config, mailer domain.Mailer, messenger domain.Messenger, events domain.EventPublisher, runner *Runner) *Dispatcher {
	if runner == nil {
		runner = NewRunner(nil, nil)
	}
	if cfg.Currency == "" {
		cfg.Currency = DefaultConfig().Currency
	}
	return &Dispatcher{
		cfg:       cfg,
		mailer:    mailer,
		messenger: messenger,
		events:    events,
		runner:    runner,
		tpl:       parseTemplates(),
		now:       time.Now,
	}
}

type task struct {
	channel Channel
	timeout time.Duration
	fn      func(context.Context) error
}

// OrderCreated уведомляет администратора и покупателя о новом заказе.
// receipt может быть nil, если квитанцию построить не удалось.
func (d *Dispatcher) OrderCreated(ctx context.Context, order domain.Order, receiptPDF []byte) []Outcome {
	v := d.view(order, nil, receiptPDF != nil)
	attachments := receiptAttachment(order, receiptPDF)

	tasks := []task{
		{ChannelAdminEmail, d.cfg.EmailTimeout, func(ctx context.Context) error {
			return d.sendEmail(ctx, d.cfg.AdminEmails, fmt.Sprintf("New order %s", order.Reference), "admin", v, attachments)
		}},
		{ChannelCustomerEmail, d.cfg.EmailTimeout, func(ctx context.Context) error {
			if order.Customer.Email == "" {
				return Skip("no customer email")
			}
			subject := fmt.Sprintf("Your order %s", order.Reference)
			return d.sendEmail(ctx, []string{order.Customer.Email}, subject, "customer", v, attachments)
		}},
		{ChannelAdminMessage, d.cfg.MessageTimeout, func(ctx context.Context) error {
			if d.cfg.AdminPhone == "" {
				return Skip("no admin phone")
			}
			return d.sendMessage(ctx, d.cfg.AdminPhone, "admin_message", v)
		}},
		{ChannelCustomerMessage, d.cfg.MessageTimeout, func(ctx context.Context) error {
			if !intake.MessagingPhone(order.Customer.Phone) {
				return Skip("phone is not in international format")
			}
			return d.sendMessage(ctx, order.Customer.Phone, "customer_message", v)
		}},
		{ChannelEvents, d.cfg.EventTimeout, func(ctx context.Context) error {
			return d.publish(ctx, domain.OrderEvent{
				Type:          domain.EventTypeOrderCreated,
				Reference:     order.Reference,
				OrderID:       order.ID,
				Persisted:     order.Persisted(),
				Status:        order.Status,
				PaymentStatus: order.PaymentStatus,
				GrandTotal:    order.GrandTotal,
				OccurredAt:    d.now().UTC(),
			})
		}},
	}

	return d.fanOut(ctx, order, tasks)
}

// StatusChanged уведомляет покупателя об изменении статуса с обновлённой квитанцией.
func (d *Dispatcher) StatusChanged(ctx context.Context, order domain.Order, changes []domain.Change, receiptPDF []byte) []Outcome {
	v := d.view(order, changes, receiptPDF != nil)
	attachments := receiptAttachment(order, receiptPDF)

	tasks := []task{
		{ChannelCustomerEmail, d.cfg.EmailTimeout, func(ctx context.Context) error {
			if order.Customer.Email == "" {
				return Skip("no customer email")
			}
			subject := fmt.Sprintf("Order %s: %s", order.Reference, summary(changes))
			return d.sendEmail(ctx, []string{order.Customer.Email}, subject, "status", v, attachments)
		}},
		{ChannelEvents, d.cfg.EventTimeout, func(ctx context.Context) error {
			return d.publish(ctx, domain.OrderEvent{
				Type:          domain.EventTypeOrderStatusChanged,
				Reference:     order.Reference,
				OrderID:       order.ID,
				Persisted:     true,
				Status:        order.Status,
				PaymentStatus: order.PaymentStatus,
				GrandTotal:    order.GrandTotal,
				Changes:       changes,
				OccurredAt:    d.now().UTC(),
			})
		}},
	}

	return d.fanOut(ctx, order, tasks)
}

// fanOut запускает все задачи одновременно. Каждая горутина пишет только в свой
// элемент результата, так что общего изменяемого состояния у попыток нет.
func (d *Dispatcher) fanOut(ctx context.Context, order domain.Order, tasks []task) []Outcome {
	runner := d.runner.WithFields(log.Fields{"order_ref": order.Reference, "order_id": order.ID})

	outcomes := make([]Outcome, len(tasks))
	var wg sync.WaitGroup
	for i, t := range tasks {
		wg.Add(1)
		go func(i int, t task) {
			defer wg.Done()
			outcomes[i] = runner.Attempt(ctx, t.channel, t.timeout, t.fn)
		}(i, t)
	}
	wg.Wait()
	return outcomes
}

func (d *Dispatcher) sendEmail(ctx context.Context, to []string, subject, tpl string, v orderView, attachments []domain.Attachment) error {
	if d.mailer == nil {
		return Skip(domain.ErrChannelNotConfigured.Error())
	}
	if len(to) == 0 {
		return Skip("no recipients")
	}
	html, err := d.tpl.renderHTML(tpl, v)
	if err != nil {
		return err
	}
	text, err := d.tpl.renderText(tpl, v)
	if err != nil {
		return err
	}
	return d.mailer.Send(ctx, domain.Email{
		To:          to,
		Subject:     subject,
		HTML:        html,
		Text:        text,
		Attachments: attachments,
	})
}

// sendMessage сначала пробует согласованный шаблон, а при его отсутствии или ошибке
// отправляет свободный текст с той же информацией.
func (d *Dispatcher) sendMessage(ctx context.Context, to, tpl string, v orderView) error {
	if d.messenger == nil {
		return Skip(domain.ErrChannelNotConfigured.Error())
	}

	var templateErr error
	if d.cfg.OrderTemplate != "" {
		templateCtx, cancel := context.WithTimeout(ctx, d.templateBudget(ctx))
		templateErr = d.messenger.SendTemplate(templateCtx, domain.TemplateMessage{
			To:       to,
			Name:     d.cfg.OrderTemplate,
			Language: d.cfg.TemplateLanguage,
			Params:   []string{v.Name, v.Reference, v.GrandTotal},
		})
		cancel()
		if templateErr == nil {
			return nil
		}
		d.runner.logger.WithError(templateErr).WithField("order_ref", v.Reference).
			Info("message template failed, falling back to text")
	}

	text, err := d.tpl.renderText(tpl, v)
	if err != nil {
		return errors.Join(templateErr, err)
	}
	if err := d.messenger.SendText(ctx, to, text); err != nil {
		return errors.Join(templateErr, err)
	}
	return nil
}

// templateBudget - доля времени канала, отведённая шаблону. Остаток
// гарантированно достаётся свободному тексту.
func (d *Dispatcher) templateBudget(ctx context.Context) time.Duration {
	budget := d.cfg.MessageTimeout
	if deadline, ok := ctx.Deadline(); ok {
		budget = time.Until(deadline)
	}
	if budget <= 0 {
		return 0
	}
	return budget / 2
}

func (d *Dispatcher) publish(ctx context.Context, event domain.OrderEvent) error {
	if d.events == nil {
		return Skip(domain.ErrChannelNotConfigured.Error())
	}
	return d.events.Publish(ctx, event)
}

func receiptAttachment(order domain.Order, pdf []byte) []domain.Attachment {
	if pdf == nil {
		return nil
	}
	return []domain.Attachment{{
		Filename:    receipt.Filename(order),
		ContentType: "application/pdf",
		Data:        pdf,
	}}
}

func summary(changes []domain.Change) string {
	if len(changes) == 0 {
		return "updated"
	}
	parts := make([]string, 0, len(changes))
	for _, c := range changes {
		if c.Field == "note" {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s %s", c.Field, c.To))
	}
	if len(parts) == 0 {
		return "note added"
	}
	return strings.Join(parts, ", ")
}
