package models

import (
	"time"
	"unicode/utf8"
)

// Delivery outcomes recorded in the journal
const (
	DeliveryDelivered = "delivered"
	DeliveryPartial   = "partial"
	DeliveryFailed    = "failed"
	DeliverySkipped   = "skipped"
)

// MaxSubjectLength is the longest subject, in characters, a journal row holds
const MaxSubjectLength = 998

// DeliveryRecord is an audit row for one processed mail message. Rows are
// written for operators only and never read back by the pipeline.
type DeliveryRecord struct {
	ID          uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Account     string    `json:"account" gorm:"type:varchar(255);not null;index"`
	UID         uint32    `json:"uid"`
	MessageID   string    `json:"message_id" gorm:"type:varchar(255);index"`
	Subject     string    `json:"subject" gorm:"type:varchar(998)"`
	Attachments int       `json:"attachments"`
	Uploaded    int       `json:"uploaded"`
	Status      string    `json:"status" gorm:"type:varchar(50);not null"`
	Acked       bool      `json:"acked"`
	ErrorMsg    string    `json:"error_msg" gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName specifies the table name for DeliveryRecord
func (DeliveryRecord) TableName() string {
	return "delivery_records"
}

// ClipSubject shortens s to MaxSubjectLength characters
func ClipSubject(s string) string {
	if utf8.RuneCountInString(s) <= MaxSubjectLength {
		return s
	}
	return string([]rune(s)[:MaxSubjectLength])
}
