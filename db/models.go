package db

import (
	"time"

	"gorm.io/datatypes"
)

type UserConfig struct {
	ID        uint
	Key       string `gorm:"unique;not null"`
	Value     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ReceivedProof is an ecash proof accepted as payment and held for
// redemption against its mint.
type ReceivedProof struct {
	ID        uint
	Mint      string `gorm:"index"`
	Amount    uint64
	KeysetId  string
	Secret    string `gorm:"uniqueIndex"`
	C         string
	Redeemed  bool `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Quote is a priced, tracked request for inbound channel liquidity.
// Quotes are never deleted; terminal states are kept as an audit trail.
type Quote struct {
	ID                  string `gorm:"primaryKey" validate:"required"`
	RequestedAmountMsat uint64 `validate:"required"`
	CounterpartyNodeId  string `validate:"required"`
	CounterpartyAddress string `validate:"required"`
	CounterpartyPort    uint32
	PushMsat            *uint64
	PriceMsat           uint64
	TotalMsat           uint64
	PaymentReference    string `gorm:"uniqueIndex;not null"`
	State               string `gorm:"index"`
	ChannelId           *string
	FundingTxId         *string
	AttemptCount        uint
	NextAttemptAt       *time.Time
	LeaseExpiresAt      *time.Time
	FailureReason       string
	Metadata            datatypes.JSON
	CreatedAt           time.Time
	UpdatedAt           time.Time
	ExpiresAt           time.Time
	SettledAt           *time.Time
}
