package models

import "time"

type Carrier string

const (
	CarrierUPS   Carrier = "ups"
	CarrierFedEx Carrier = "fedex"
	CarrierDHL   Carrier = "dhl"
	CarrierUSPS  Carrier = "usps"
)

// Carriers is the closed set of supported carriers.
var Carriers = []Carrier{CarrierUPS, CarrierFedEx, CarrierDHL, CarrierUSPS}

func (c Carrier) Valid() bool {
	switch c {
	case CarrierUPS, CarrierFedEx, CarrierDHL, CarrierUSPS:
		return true
	}
	return false
}

type ShipmentStatus string

const (
	StatusPending        ShipmentStatus = "pending"
	StatusInTransit      ShipmentStatus = "in-transit"
	StatusOutForDelivery ShipmentStatus = "out-for-delivery"
	StatusDelivered      ShipmentStatus = "delivered"
	StatusException      ShipmentStatus = "exception"
	StatusCancelled      ShipmentStatus = "cancelled"
)

// Terminal statuses are permanently excluded from sync selection.
func (s ShipmentStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSuccess SyncStatus = "success"
	SyncFailed  SyncStatus = "failed"
)

type EventType string

const (
	EventPickup          EventType = "pickup"
	EventInTransit       EventType = "in_transit"
	EventOutForDelivery  EventType = "out_for_delivery"
	EventDelivered       EventType = "delivered"
	EventDeliveryAttempt EventType = "delivery_attempt"
	EventException       EventType = "exception"
	EventCancelled       EventType = "cancelled"
	EventLocationUpdate  EventType = "location_update"
	EventAPISync         EventType = "api_sync"
)

type EventSource string

const (
	SourceAPISync EventSource = "api_sync"
	SourceManual  EventSource = "manual"
	SourceWebhook EventSource = "webhook"
)

type Shipment struct {
	ID             uint64
	Carrier        Carrier
	TrackingNumber *string
	Status         ShipmentStatus
	APISyncStatus  SyncStatus
	APIError       *string
	LastAPISync    *time.Time
	FirstFailedAt  *time.Time
	NeedsReview    bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SyncEligible reports whether the shipment may be synced at all:
// carrier and tracking number set, status not terminal.
func (s *Shipment) SyncEligible() bool {
	if !s.Carrier.Valid() {
		return false
	}
	if s.TrackingNumber == nil || *s.TrackingNumber == "" {
		return false
	}
	return !s.Status.Terminal()
}

type TrackingEvent struct {
	ID           uint64
	ShipmentID   uint64
	Type         EventType
	Status       ShipmentStatus // optional hint; empty when the carrier gave none
	Description  string
	Location     *string
	Source       EventSource
	SourceID     *string
	EventTime    time.Time
	RecordedAt   time.Time
	MetadataJSON *string
}

type ShipmentCreateInput struct {
	Carrier        Carrier
	TrackingNumber string
}
