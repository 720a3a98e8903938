package model

import "time"

type DeliveryStatus int

const (
	DeliveryStatusPending DeliveryStatus = iota
	DeliveryStatusSent
	DeliveryStatusFailed
	DeliveryStatusSkipped
)

func (s DeliveryStatus) String() string {
	switch s {
	case DeliveryStatusSent:
		return "sent"
	case DeliveryStatusFailed:
		return "failed"
	case DeliveryStatusSkipped:
		return "skipped"
	}
	return "pending"
}

// Delivery records one outbound notification attempt.
type Delivery struct {
	ID         string
	Event      string
	Status     DeliveryStatus
	StatusCode int
	Signature  string
	Timestamp  time.Time
}
