package intake

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Request - тело запроса на создание заказа в каноническом виде:
// {"order": {...}, "proof": {...}}.
type Request struct {
	Order IncomingOrder           `json:"order"`
	Proof *domain.ProofAttachment `json:"proof,omitempty"`
	// Legacy отмечает, что тело пришло в устаревшей плоской форме.
	Legacy bool `json:"-"`
}

// IncomingOrder - недоверенный входной заказ.
type IncomingOrder struct {
	ReferenceHint string                  `json:"referenceHint,omitempty"`
	Items         []LineItemInput         `json:"items" validate:"required,min=1,dive"`
	Info          CustomerInfo            `json:"info"`
	Proof         *domain.ProofAttachment `json:"proof,omitempty"`

	// Доверенные итоги. Используются, только если заданы и конечны.
	Subtotal    *float64 `json:"subtotal,omitempty"`
	DeliveryFee *float64 `json:"deliveryFee,omitempty"`
	GrandTotal  *float64 `json:"grandTotal,omitempty"`
}

// LineItemInput - позиция входного заказа.
type LineItemInput struct {
	ProductKey string  `json:"productKey"`
	Quantity   float64 `json:"quantity" validate:"gt=0,lte=100000"`
	UnitTitle  string  `json:"unitTitle"`
	UnitPrice  float64 `json:"unitPrice" validate:"gte=0"`
}

// UnmarshalJSON принимает и короткие имена полей (title/price/qty),
// которые исторически присылает витрина.
func (i *LineItemInput) UnmarshalJSON(data []byte) error {
	var raw struct {
		ProductKey string   `json:"productKey"`
		ID         string   `json:"id"`
		Slug       string   `json:"slug"`
		UnitTitle  string   `json:"unitTitle"`
		Title      string   `json:"title"`
		Name       string   `json:"name"`
		UnitPrice  *float64 `json:"unitPrice"`
		Price      *float64 `json:"price"`
		Quantity   *float64 `json:"quantity"`
		Qty        *float64 `json:"qty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*i = LineItemInput{
		ProductKey: firstNonEmpty(raw.ProductKey, raw.ID, raw.Slug),
		UnitTitle:  firstNonEmpty(raw.UnitTitle, raw.Title, raw.Name),
	}
	if v := firstNonNil(raw.UnitPrice, raw.Price); v != nil {
		i.UnitPrice = *v
	}
	if v := firstNonNil(raw.Quantity, raw.Qty); v != nil {
		i.Quantity = *v
	}
	return nil
}

// CustomerInfo - контактные данные покупателя.
type CustomerInfo struct {
	Name           string            `json:"name" validate:"required"`
	Phone          string            `json:"phone,omitempty"`
	Email          string            `json:"email,omitempty"`
	PaymentMethod  string            `json:"paymentMethod,omitempty"`
	Address        string            `json:"address" validate:"required"`
	DeliveryZone   string            `json:"deliveryZone,omitempty"`
	PaymentDetails map[string]string `json:"paymentDetails,omitempty"`
}

// legacyOrder - устаревшая плоская форма тела запроса.
type legacyOrder struct {
	Ref            string                  `json:"ref"`
	Reference      string                  `json:"reference"`
	Items          []LineItemInput         `json:"items"`
	Cart           []LineItemInput         `json:"cart"`
	Info           *CustomerInfo           `json:"info"`
	Name           string                  `json:"name"`
	CustomerName   string                  `json:"customerName"`
	Phone          string                  `json:"phone"`
	Email          string                  `json:"email"`
	Address        string                  `json:"address"`
	PaymentMethod  string                  `json:"paymentMethod"`
	DeliveryZone   string                  `json:"deliveryZone"`
	Zone           string                  `json:"zone"`
	PaymentDetails map[string]string       `json:"paymentDetails"`
	Subtotal       *float64                `json:"subtotal"`
	DeliveryFee    *float64                `json:"deliveryFee"`
	Total          *float64                `json:"total"`
	GrandTotal     *float64                `json:"grandTotal"`
	Proof          *domain.ProofAttachment `json:"proof"`
}

// DecodeRequest разбирает тело запроса. Каноническая форма - объект с ключом "order";
// всё остальное считается устаревшей плоской формой и приводится к канонической
// через adaptLegacy, поэтому порядок вычисления значений по умолчанию у форм общий.
func DecodeRequest(body []byte) (Request, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return Request{}, fmt.Errorf("%w: empty body", domain.ErrMalformedPayload)
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return Request{}, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}

	if rawOrder, ok := probe["order"]; ok {
		var req Request
		if err := json.Unmarshal(body, &req); err != nil {
			return Request{}, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
		}
		if trimmed := bytes.TrimSpace(rawOrder); len(trimmed) == 0 || trimmed[0] != '{' {
			return Request{}, fmt.Errorf("%w: order must be an object", domain.ErrMalformedPayload)
		}
		if req.Proof.Empty() {
			req.Proof = req.Order.Proof
		}
		return req, nil
	}

	var flat legacyOrder
	if err := json.Unmarshal(body, &flat); err != nil {
		return Request{}, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	return adaptLegacy(flat), nil
}

// adaptLegacy приводит плоскую форму к канонической. Значения из вложенного
// info имеют приоритет над плоскими полями; total трактуется как grandTotal.
func adaptLegacy(flat legacyOrder) Request {
	info := CustomerInfo{}
	if flat.Info != nil {
		info = *flat.Info
	}
	info.Name = firstNonEmpty(info.Name, flat.Name, flat.CustomerName)
	info.Phone = firstNonEmpty(info.Phone, flat.Phone)
	info.Email = firstNonEmpty(info.Email, flat.Email)
	info.Address = firstNonEmpty(info.Address, flat.Address)
	info.PaymentMethod = firstNonEmpty(info.PaymentMethod, flat.PaymentMethod)
	info.DeliveryZone = firstNonEmpty(info.DeliveryZone, flat.DeliveryZone, flat.Zone)
	if info.PaymentDetails == nil {
		info.PaymentDetails = flat.PaymentDetails
	}

	items := flat.Items
	if len(items) == 0 {
		items = flat.Cart
	}

	return Request{
		Order: IncomingOrder{
			ReferenceHint: firstNonEmpty(flat.Reference, flat.Ref),
			Items:         items,
			Info:          info,
			Subtotal:      flat.Subtotal,
			DeliveryFee:   flat.DeliveryFee,
			GrandTotal:    firstNonNil(flat.GrandTotal, flat.Total),
		},
		Proof:  flat.Proof,
		Legacy: true,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func firstNonNil(values ...*float64) *float64 {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}
