// internal/models/common.go
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base model with common fields
type BaseModel struct {
	ID        uuid.UUID      `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// BeforeCreate assigns an id on the client side so records created through
// non-postgres stores still get one.
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// JSONB type for PostgreSQL
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("unsupported JSONB source type %T", value)
	}

	return json.Unmarshal(bytes, j)
}

// ToJSONB flattens a typed value into a JSONB document.
func ToJSONB(v interface{}) (JSONB, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out JSONB
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Decode fills v from the document.
func (j JSONB) Decode(v interface{}) error {
	raw, err := json.Marshal(j)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// Enums

// Toggle is a tri-state setting. The empty value inherits from the next level.
type Toggle string

const (
	ToggleInherit Toggle = ""
	ToggleAllow   Toggle = "1"
	ToggleDeny    Toggle = "0"
)

type StepType string

const (
	StepTypePrice      StepType = "price"
	StepTypePercentage StepType = "percentage"
)

type ListingStatus string

const (
	ListingStatusActive   ListingStatus = "active"
	ListingStatusInactive ListingStatus = "inactive"
	ListingStatusRetired  ListingStatus = "retired"
)

type FeedType string

const (
	FeedTypeUpdateStock      FeedType = "Update_stock"
	FeedTypeUpdateStockPrice FeedType = "Update_stock_price"
	FeedTypeAddProducts      FeedType = "Add_products_csv"
)

type JobState string

const (
	JobStatePending JobState = "pending"
	JobStateStarted JobState = "started"
	JobStateDone    JobState = "done"
	JobStateFailed  JobState = "failed"
)

type PurchaseState string

const (
	PurchaseStateDraft     PurchaseState = "draft"
	PurchaseStateConfirmed PurchaseState = "purchase"
	PurchaseStateDone      PurchaseState = "done"
	PurchaseStateCancel    PurchaseState = "cancel"
)

type OperatorRole string

const (
	OperatorRoleAdmin  OperatorRole = "admin"
	OperatorRoleViewer OperatorRole = "viewer"
)
