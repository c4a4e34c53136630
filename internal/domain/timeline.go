package domain

import "time"

// Типы событий timeline.
const (
	TimelineOrderCreated       = "OrderCreated"
	TimelineOrderPersistFailed = "OrderPersistFailed"
	TimelineOrderStatusChanged = "OrderStatusChanged"
	TimelineNotification       = "Notification"
)

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	Reference string    `json:"reference" bson:"reference"`
	Type      string    `json:"type" bson:"type"`
	Channel   string    `json:"channel,omitempty" bson:"channel,omitempty"`
	Outcome   string    `json:"outcome,omitempty" bson:"outcome,omitempty"`
	Reason    string    `json:"reason,omitempty" bson:"reason,omitempty"`
	Occurred  time.Time `json:"occurred" bson:"occurred"`
}
