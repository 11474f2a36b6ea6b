package constants

import "time"

// shared constants used by multiple packages

const (
	QUOTE_STATE_AWAITING_PAYMENT    = "AWAITING_PAYMENT"
	QUOTE_STATE_PAID                = "PAID"
	QUOTE_STATE_PROVISIONING        = "PROVISIONING"
	QUOTE_STATE_COMPLETED           = "COMPLETED"
	QUOTE_STATE_PROVISIONING_FAILED = "PROVISIONING_FAILED"
	QUOTE_STATE_EXPIRED             = "EXPIRED"
)

// internal event names published on the event bus
const (
	QUOTE_EVENT_CREATED             = "channel_quote_created"
	QUOTE_EVENT_PAID                = "channel_quote_paid"
	QUOTE_EVENT_COMPLETED           = "channel_quote_completed"
	QUOTE_EVENT_PROVISIONING_FAILED = "channel_quote_provisioning_failed"
	QUOTE_EVENT_EXPIRED             = "channel_quote_expired"
)

const (
	// how often the expiry sweeper scans for overdue quotes
	QUOTE_EXPIRY_SWEEP_INTERVAL = 30 * time.Second

	// how long a provisioning worker holds the exclusive lease on a quote
	// before another worker may take it over
	PROVISIONING_LEASE_DURATION = 5 * time.Minute

	// base delay for the exponential provisioning backoff schedule
	PROVISIONING_RETRY_BASE_DELAY = 10 * time.Second

	// backoff is capped so a quote is never parked for hours
	PROVISIONING_RETRY_MAX_DELAY = 10 * time.Minute
)
