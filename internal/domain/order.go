package domain

import (
	"strings"
	"time"
)

// ReferencePrefix - префикс публичного номера заказа.
const ReferencePrefix = "LWG-"

// OrderStatus описывает жизненный цикл исполнения заказа.
type OrderStatus string

const (
	// OrderStatusNew - заказ принят, обработка не начата.
	OrderStatusNew OrderStatus = "New"
	// OrderStatusProcessing - заказ собирается.
	OrderStatusProcessing OrderStatus = "Processing"
	// OrderStatusShipped - заказ передан в доставку.
	OrderStatusShipped OrderStatus = "Shipped"
	// OrderStatusCompleted - заказ получен клиентом.
	OrderStatusCompleted OrderStatus = "Completed"
	// OrderStatusCancelled - заказ отменён.
	OrderStatusCancelled OrderStatus = "Cancelled"
)

// PaymentStatus описывает состояние оплаты заказа.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "Pending"
	PaymentStatusPaid     PaymentStatus = "Paid"
	PaymentStatusFailed   PaymentStatus = "Failed"
	PaymentStatusRefunded PaymentStatus = "Refunded"
)

// OrderStatuses перечисляет все статусы исполнения в порядке жизненного цикла.
var OrderStatuses = []OrderStatus{
	OrderStatusNew,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusCompleted,
	OrderStatusCancelled,
}

// PaymentStatuses перечисляет все статусы оплаты.
var PaymentStatuses = []PaymentStatus{
	PaymentStatusPending,
	PaymentStatusPaid,
	PaymentStatusFailed,
	PaymentStatusRefunded,
}

// ParseOrderStatus разбирает статус без учёта регистра.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	raw = strings.TrimSpace(raw)
	for _, s := range OrderStatuses {
		if strings.EqualFold(string(s), raw) {
			return s, true
		}
	}
	// Встречается британское и американское написание.
	if strings.EqualFold(raw, "canceled") {
		return OrderStatusCancelled, true
	}
	return "", false
}

// ParsePaymentStatus разбирает статус оплаты без учёта регистра.
func ParsePaymentStatus(raw string) (PaymentStatus, bool) {
	raw = strings.TrimSpace(raw)
	for _, s := range PaymentStatuses {
		if strings.EqualFold(string(s), raw) {
			return s, true
		}
	}
	return "", false
}

// LineItem - позиция заказа. Название и цена фиксируются в момент оформления
// и больше не перечитываются из каталога.
type LineItem struct {
	ProductKey string  `json:"productKey" bson:"productKey"`
	Title      string  `json:"title" bson:"title"`
	UnitPrice  float64 `json:"unitPrice" bson:"unitPrice"`
	Quantity   int     `json:"quantity" bson:"quantity"`
}

// LineTotal возвращает стоимость позиции.
func (i LineItem) LineTotal() float64 {
	return i.UnitPrice * float64(i.Quantity)
}

// Customer - контактные данные и параметры доставки покупателя.
type Customer struct {
	Name           string            `json:"name" bson:"name"`
	Phone          string            `json:"phone,omitempty" bson:"phone,omitempty"`
	Email          string            `json:"email,omitempty" bson:"email,omitempty"`
	PaymentMethod  string            `json:"paymentMethod,omitempty" bson:"paymentMethod,omitempty"`
	Address        string            `json:"address" bson:"address"`
	DeliveryZone   string            `json:"deliveryZone,omitempty" bson:"deliveryZone,omitempty"`
	PaymentDetails map[string]string `json:"paymentDetails,omitempty" bson:"paymentDetails,omitempty"`
}

// Order - каноническое представление заказа, не зависящее от формы входного запроса.
type Order struct {
	// ID выдаётся хранилищем; пуст, если заказ не удалось сохранить.
	ID            string        `json:"id,omitempty" bson:"-"`
	Reference     string        `json:"reference" bson:"reference"`
	CreatedAt     time.Time     `json:"createdAt" bson:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt" bson:"updatedAt"`
	Customer      Customer      `json:"customer" bson:"customer"`
	Items         []LineItem    `json:"items" bson:"items"`
	Subtotal      float64       `json:"subtotal" bson:"subtotal"`
	DeliveryFee   float64       `json:"deliveryFee" bson:"deliveryFee"`
	GrandTotal    float64       `json:"grandTotal" bson:"grandTotal"`
	ProofURL      string        `json:"proofUrl,omitempty" bson:"proofUrl,omitempty"`
	PaymentStatus PaymentStatus `json:"paymentStatus" bson:"paymentStatus"`
	Status        OrderStatus   `json:"status" bson:"status"`
	Note          string        `json:"note,omitempty" bson:"note,omitempty"`
}

// ItemCount возвращает суммарное количество единиц товара.
func (o *Order) ItemCount() int {
	var n int
	for _, item := range o.Items {
		n += item.Quantity
	}
	return n
}

// Persisted сообщает, получил ли заказ идентификатор хранилища.
func (o *Order) Persisted() bool {
	return o.ID != ""
}

// OrderFilter - объект фильтра для поиска и подсчёта документов.
// Пустые поля не участвуют в отборе.
type OrderFilter struct {
	ID            string
	Reference     string
	Status        OrderStatus
	PaymentStatus PaymentStatus
}

// Match проверяет заказ на соответствие фильтру.
func (f OrderFilter) Match(o Order) bool {
	if f.ID != "" && f.ID != o.ID {
		return false
	}
	if f.Reference != "" && !strings.EqualFold(f.Reference, o.Reference) {
		return false
	}
	if f.Status != "" && f.Status != o.Status {
		return false
	}
	if f.PaymentStatus != "" && f.PaymentStatus != o.PaymentStatus {
		return false
	}
	return true
}

// StatusPatch - административное изменение заказа. Nil-поля не меняются.
type StatusPatch struct {
	Status        *OrderStatus
	PaymentStatus *PaymentStatus
	Note          *string
}

// Empty сообщает, что патч ничего не меняет.
func (p StatusPatch) Empty() bool {
	return p.Status == nil && p.PaymentStatus == nil && p.Note == nil
}

// Apply применяет патч к заказу и возвращает список изменений в человекочитаемом виде.
func (p StatusPatch) Apply(o *Order, now time.Time) []Change {
	var changes []Change
	if p.Status != nil && *p.Status != o.Status {
		changes = append(changes, Change{Field: "status", From: string(o.Status), To: string(*p.Status)})
		o.Status = *p.Status
	}
	if p.PaymentStatus != nil && *p.PaymentStatus != o.PaymentStatus {
		changes = append(changes, Change{Field: "paymentStatus", From: string(o.PaymentStatus), To: string(*p.PaymentStatus)})
		o.PaymentStatus = *p.PaymentStatus
	}
	if p.Note != nil && *p.Note != o.Note {
		changes = append(changes, Change{Field: "note", From: o.Note, To: *p.Note})
		o.Note = *p.Note
	}
	o.UpdatedAt = now
	return changes
}

// Change описывает изменение одного поля заказа.
type Change struct {
	Field string `json:"field"`
	From  string `json:"from"`
	To    string `json:"to"`
}

// ProofAttachment - подтверждение оплаты (скриншот перевода и т.п.) в base64.
type ProofAttachment struct {
	Filename   string `json:"filename"`
	MimeType   string `json:"mimeType"`
	DataBase64 string `json:"dataBase64"`
}

// Empty сообщает, что вложение отсутствует.
func (p *ProofAttachment) Empty() bool {
	return p == nil || strings.TrimSpace(p.DataBase64) == ""
}
