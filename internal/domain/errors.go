package domain

import (
	"errors"
	"strings"
)

var (
	// ErrValidation - корневая ошибка некорректного входного заказа.
	ErrValidation = errors.New("validation failed")
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка при некорректном количестве товара (<= 0 или дробное).
	ErrItemQtyInvalid = errors.New("item quantity must be a positive integer not above 100000")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка отсутствующего имени покупателя.
	ErrNameRequired = errors.New("customer name is required")
	// Ошибка отсутствия валидного телефона и email одновременно.
	ErrContactRequired = errors.New("a valid phone or email is required")
	// Ошибка отсутствующего адреса доставки.
	ErrAddressRequired = errors.New("delivery address is required")
	// Ошибка неразборчивого тела запроса.
	ErrMalformedPayload = errors.New("malformed order payload")

	// ErrOrderNotFound возвращается, если заказ не найден в хранилище.
	ErrOrderNotFound = errors.New("order not found")
	// ErrDuplicateReference - номер заказа уже занят (уникальный индекс хранилища).
	ErrDuplicateReference = errors.New("order reference already exists")
	// ErrPersistenceUnavailable - хранилище недоступно или запись не удалась.
	ErrPersistenceUnavailable = errors.New("persistence unavailable")
	// ErrNotificationFailed - ошибка канала уведомлений.
	ErrNotificationFailed = errors.New("notification failed")
	// ErrChannelNotConfigured - у канала нет настроенного провайдера.
	ErrChannelNotConfigured = errors.New("channel not configured")
	// ErrIdentityMismatch - телефон/email не совпадают с данными заказа.
	ErrIdentityMismatch = errors.New("identity does not match order")
	// ErrEmptyPatch - административное изменение ничего не меняет.
	ErrEmptyPatch = errors.New("status patch is empty")
)

// ValidationError агрегирует все замечания к входному заказу.
type ValidationError struct {
	Problems []error
}

// NewValidationError создаёт ошибку валидации из списка замечаний.
func NewValidationError(problems ...error) *ValidationError {
	return &ValidationError{Problems: problems}
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 0 {
		return ErrValidation.Error()
	}
	msgs := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		msgs = append(msgs, p.Error())
	}
	return strings.Join(msgs, "; ")
}

// Unwrap позволяет errors.Is находить как ErrValidation, так и конкретные причины.
func (e *ValidationError) Unwrap() []error {
	return append([]error{ErrValidation}, e.Problems...)
}

// Details возвращает замечания в виде строк для ответа клиенту.
func (e *ValidationError) Details() []string {
	out := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		out = append(out, p.Error())
	}
	return out
}

// IsValidation проверяет, является ли ошибка ошибкой валидации.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound проверяет, что заказ не найден.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound)
}
