// internal/models/operator.go
package models

import (
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Operator is a back-office user allowed to drive the sync API.
type Operator struct {
	BaseModel
	AccountID    uuid.UUID    `json:"account_id" gorm:"type:uuid;not null;index"`
	Username     string       `json:"username" gorm:"size:50;not null;uniqueIndex"`
	PasswordHash string       `json:"-" gorm:"size:255;not null"`
	Role         OperatorRole `json:"role" gorm:"type:varchar(20);default:'viewer'"`
	LastLoginAt  *time.Time   `json:"last_login_at"`
}

func (o *Operator) SetPassword(password string) error {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	o.PasswordHash = string(hashedPassword)
	return nil
}

func (o *Operator) CheckPassword(password string) error {
	return bcrypt.CompareHashAndPassword([]byte(o.PasswordHash), []byte(password))
}
