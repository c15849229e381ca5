package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a point-in-time market snapshot for one currency.
type Quote struct {
	Currency   string
	BestBid    decimal.Decimal
	BestAsk    decimal.Decimal
	PeriodHigh decimal.Decimal
	Timestamp  time.Time
}

// Credentials is a user's exchange key pair. It is passed through to the
// exchange unmodified and must never appear in logs.
type Credentials struct {
	AccessKey string
	SecretKey string
}

// String keeps accidental fmt/log output from leaking key material.
func (c Credentials) String() string {
	return "credentials(redacted)"
}
