// Package intake проверяет и нормализует входящие заказы.
// Пакет не обращается к сети и хранилищу: результат полностью
// определяется входом, таблицей зон, часами и источником случайности.
package intake

import (
	"crypto/rand"
	"errors"
	"io"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	referenceAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	referenceLength   = 6
	defaultItemTitle  = "Item"
)

var (
	loosePhonePattern  = regexp.MustCompile(`^\+?[0-9][0-9 ()\-.]{6,22}$`)
	strictPhonePattern = regexp.MustCompile(`^\+\d{8,15}$`)
	emailPattern       = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// Config - явная конфигурация нормализатора.
type Config struct {
	// ZoneFees - стоимость доставки по зоне. Ключи сравниваются без учёта регистра.
	ZoneFees map[string]float64
	// Now - источник времени; по умолчанию time.Now.
	Now func() time.Time
	// Rand - источник случайности для номеров заказов; по умолчанию crypto/rand.
	Rand io.Reader
}

// Normalizer превращает IncomingOrder в черновик канонического заказа.
type Normalizer struct {
	zoneFees map[string]decimal.Decimal
	now      func() time.Time
	rand     io.Reader
	validate *validator.Validate
}

// NewNormalizer создаёт нормализатор.
func NewNormalizer(cfg Config) *Normalizer {
	fees := make(map[string]decimal.Decimal, len(cfg.ZoneFees))
	for zone, fee := range cfg.ZoneFees {
		fees[zoneKey(zone)] = decimal.NewFromFloat(fee)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	src := cfg.Rand
	if src == nil {
		src = rand.Reader
	}
	return &Normalizer{
		zoneFees: fees,
		now:      now,
		rand:     src,
		validate: validator.New(),
	}
}

// Normalize проверяет заказ и возвращает черновик со статусами New/Pending.
// Все найденные проблемы возвращаются одной *domain.ValidationError.
func (n *Normalizer) Normalize(in IncomingOrder) (domain.Order, error) {
	in.Info = trimInfo(in.Info)

	problems := n.structProblems(in)
	for _, item := range in.Items {
		if item.Quantity > 0 && item.Quantity != math.Trunc(item.Quantity) {
			problems = appendOnce(problems, domain.ErrItemQtyInvalid)
		}
		if math.IsNaN(item.UnitPrice) || math.IsInf(item.UnitPrice, 0) {
			problems = appendOnce(problems, domain.ErrItemPriceInvalid)
		}
	}

	phoneOK := ValidPhone(in.Info.Phone)
	emailOK := ValidEmail(in.Info.Email)
	if !phoneOK && !emailOK {
		problems = append(problems, domain.ErrContactRequired)
	}
	if len(problems) > 0 {
		return domain.Order{}, domain.NewValidationError(problems...)
	}

	reference := strings.TrimSpace(in.ReferenceHint)
	if reference == "" {
		generated, err := n.NewReference()
		if err != nil {
			return domain.Order{}, err
		}
		reference = generated
	}

	items := make([]domain.LineItem, 0, len(in.Items))
	subtotal := decimal.Zero
	for _, item := range in.Items {
		title := firstNonEmpty(item.UnitTitle, item.ProductKey, defaultItemTitle)
		items = append(items, domain.LineItem{
			ProductKey: strings.TrimSpace(item.ProductKey),
			Title:      title,
			UnitPrice:  item.UnitPrice,
			Quantity:   int(item.Quantity),
		})
		subtotal = subtotal.Add(decimal.NewFromFloat(item.UnitPrice).Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	if v, ok := trusted(in.Subtotal); ok {
		subtotal = v
	}
	fee := n.ZoneFee(in.Info.DeliveryZone)
	if v, ok := trusted(in.DeliveryFee); ok {
		fee = v
	}
	grand := subtotal.Add(fee)
	if v, ok := trusted(in.GrandTotal); ok {
		grand = v
	}

	customer := domain.Customer{
		Name:           in.Info.Name,
		PaymentMethod:  in.Info.PaymentMethod,
		Address:        in.Info.Address,
		DeliveryZone:   in.Info.DeliveryZone,
		PaymentDetails: in.Info.PaymentDetails,
	}
	// Невалидный контакт не сохраняем: по нему нельзя ни уведомить, ни найти заказ.
	if phoneOK {
		customer.Phone = in.Info.Phone
	}
	if emailOK {
		customer.Email = strings.ToLower(in.Info.Email)
	}

	now := n.now().UTC()
	return domain.Order{
		Reference:     reference,
		CreatedAt:     now,
		UpdatedAt:     now,
		Customer:      customer,
		Items:         items,
		Subtotal:      money(subtotal),
		DeliveryFee:   money(fee),
		GrandTotal:    money(grand),
		PaymentStatus: domain.PaymentStatusPending,
		Status:        domain.OrderStatusNew,
	}, nil
}

// ZoneFee возвращает стоимость доставки для зоны; неизвестная зона - 0.
func (n *Normalizer) ZoneFee(zone string) decimal.Decimal {
	if fee, ok := n.zoneFees[zoneKey(zone)]; ok {
		return fee
	}
	return decimal.Zero
}

// NewReference генерирует номер вида LWG-XXXXXX (base36, верхний регистр).
func (n *Normalizer) NewReference() (string, error) {
	out := make([]byte, 0, referenceLength)
	buf := make([]byte, referenceLength*2)
	for len(out) < referenceLength {
		if _, err := io.ReadFull(n.rand, buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			// 252 = 7*36: отбрасываем хвост, чтобы распределение было равномерным.
			if b >= 252 {
				continue
			}
			out = append(out, referenceAlphabet[int(b)%len(referenceAlphabet)])
			if len(out) == referenceLength {
				break
			}
		}
	}
	return domain.ReferencePrefix + string(out), nil
}

func (n *Normalizer) structProblems(in IncomingOrder) []error {
	err := n.validate.Struct(in)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []error{domain.ErrMalformedPayload}
	}

	var problems []error
	for _, fe := range fieldErrs {
		switch fe.Field() {
		case "Items":
			problems = appendOnce(problems, domain.ErrItemsRequired)
		case "Quantity":
			problems = appendOnce(problems, domain.ErrItemQtyInvalid)
		case "UnitPrice":
			problems = appendOnce(problems, domain.ErrItemPriceInvalid)
		case "Name":
			problems = appendOnce(problems, domain.ErrNameRequired)
		case "Address":
			problems = appendOnce(problems, domain.ErrAddressRequired)
		default:
			problems = appendOnce(problems, domain.ErrMalformedPayload)
		}
	}
	return problems
}

// ValidPhone проверяет телефон по мягкому международному шаблону (7–15 цифр).
func ValidPhone(phone string) bool {
	phone = strings.TrimSpace(phone)
	if !loosePhonePattern.MatchString(phone) {
		return false
	}
	digits := len(Digits(phone))
	return digits >= 7 && digits <= 15
}

// MessagingPhone проверяет телефон по строгому шаблону E.164 для мессенджера.
func MessagingPhone(phone string) bool {
	return strictPhonePattern.MatchString(phone)
}

// ValidEmail проверяет email по базовому шаблону адреса.
func ValidEmail(email string) bool {
	return emailPattern.MatchString(strings.TrimSpace(email))
}

// Digits оставляет в строке только цифры.
func Digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func trimInfo(info CustomerInfo) CustomerInfo {
	info.Name = strings.TrimSpace(info.Name)
	info.Phone = strings.TrimSpace(info.Phone)
	info.Email = strings.TrimSpace(info.Email)
	info.Address = strings.TrimSpace(info.Address)
	info.PaymentMethod = strings.TrimSpace(info.PaymentMethod)
	info.DeliveryZone = strings.TrimSpace(info.DeliveryZone)
	return info
}

func trusted(v *float64) (decimal.Decimal, bool) {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(*v), true
}

func money(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

func zoneKey(zone string) string {
	return strings.ToLower(strings.TrimSpace(zone))
}

func appendOnce(errs []error, err error) []error {
	for _, e := range errs {
		if e == err {
			return errs
		}
	}
	return append(errs, err)
}
