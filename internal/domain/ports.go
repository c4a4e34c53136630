package domain

import (
	"context"
	"time"
)

// OrderStore описывает документное хранилище заказов.
type OrderStore interface {
	// Create сохраняет новый документ и возвращает выданный хранилищем идентификатор.
	// Возвращает ErrDuplicateReference, если номер заказа уже занят.
	Create(ctx context.Context, order Order) (string, error)
	// FindOne возвращает первый документ, подходящий под фильтр, или ErrOrderNotFound.
	FindOne(ctx context.Context, filter OrderFilter) (Order, error)
	// UpdateStatus применяет административный патч и возвращает заказ до и после изменения.
	UpdateStatus(ctx context.Context, id string, patch StatusPatch, now time.Time) (before, after Order, err error)
	// Count считает документы под фильтр.
	Count(ctx context.Context, filter OrderFilter) (int64, error)
	// Ping проверяет доступность хранилища.
	Ping(ctx context.Context) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, reference string) ([]TimelineEvent, error)
}

// Attachment - файл, прикладываемый к письму.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Email - исходящее письмо.
type Email struct {
	To          []string
	Subject     string
	HTML        string
	Text        string
	Attachments []Attachment
}

// Mailer отправляет письма через внешний почтовый транспорт.
type Mailer interface {
	Send(ctx context.Context, msg Email) error
}

// TemplateMessage - сообщение по заранее одобренному шаблону мессенджера.
type TemplateMessage struct {
	To       string
	Name     string
	Language string
	Params   []string
}

// Messenger отправляет мгновенные сообщения (WhatsApp и аналоги).
type Messenger interface {
	SendTemplate(ctx context.Context, msg TemplateMessage) error
	SendText(ctx context.Context, to, body string) error
}

// Uploader загружает бинарные вложения и возвращает публичный URL.
type Uploader interface {
	Upload(ctx context.Context, proof ProofAttachment, reference string) (string, error)
}

// EventType - тип события заказа для внешней шины.
type EventType string

const (
	EventTypeOrderCreated       EventType = "order.created"
	EventTypeOrderStatusChanged EventType = "order.status_changed"
)

// OrderEvent - событие заказа, публикуемое во внешнюю шину.
type OrderEvent struct {
	Type          EventType     `json:"event_type"`
	Reference     string        `json:"reference"`
	OrderID       string        `json:"order_id,omitempty"`
	Persisted     bool          `json:"persisted"`
	Status        OrderStatus   `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	GrandTotal    float64       `json:"grand_total"`
	Changes       []Change      `json:"changes,omitempty"`
	OccurredAt    time.Time     `json:"occurred_at"`
}

// EventPublisher публикует события заказов.
type EventPublisher interface {
	Publish(ctx context.Context, event OrderEvent) error
}
