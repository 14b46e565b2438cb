package database

import (
	"time"
)

// DeliveryRecord is one row of the sent_messages ledger.
type DeliveryRecord struct {
	Hash             string
	IssuerCode       string
	Title            string
	ChannelName      string
	MessageBody      string
	AnnouncementDate string
	SentAt           time.Time
}
