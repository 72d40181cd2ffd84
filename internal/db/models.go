package db

import (
	"time"

	"github.com/google/uuid"
)

// Document is the slice of a record-store document the scheduler cares
// about: identity, validity window, and the per-document alert
// configuration. The rest of the document (owner, file contents, ...)
// lives in the surrounding record store.
type Document struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	ValidUntil time.Time `json:"valid_until"` // calendar date, time-of-day ignored
	LeadTimes  []int32   `json:"lead_times"`  // days before valid_until, e.g. {30,15,7,3,1}
	Channel    string    `json:"channel"`
	Recipient  string    `json:"recipient"`
	Version    int64     `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Alert is one scheduled expiration warning for a document. Alerts are
// terminalized (delivered, cancelled, failed), never deleted, so the
// delivery history stays auditable.
type Alert struct {
	ID               uuid.UUID  `json:"id"`
	DocumentID       uuid.UUID  `json:"document_id"`
	LeadTimeDays     int32      `json:"lead_time_days"`
	TriggerAt        time.Time  `json:"trigger_at"`
	Priority         string     `json:"priority"`
	State            string     `json:"state"`
	DeliveryAttempts int        `json:"delivery_attempts"`
	LastError        *string    `json:"last_error,omitempty"`
	LeaseExpiry      *time.Time `json:"lease_expiry,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// DueAlert is an alert joined with the document fields a delivery needs.
type DueAlert struct {
	Alert
	DocumentName string `json:"document_name"`
	Channel      string `json:"channel"`
	Recipient    string `json:"recipient"`
}

// Alert state constants
const (
	StatePending    = "pending"
	StateDelivering = "delivering"
	StateDelivered  = "delivered"
	StateCancelled  = "cancelled"
	StateFailed     = "failed" // retry cap exhausted, waiting on an operator
)

// Priority constants
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// Channel constants
const (
	ChannelEmail   = "email"
	ChannelSMS     = "sms"
	ChannelWebhook = "webhook"
)
