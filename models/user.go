package models

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is a staff portal account (admin, manager or worker).
type User struct {
	ID           uuid.UUID `gorm:"primaryKey" json:"id"`
	Email        string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	PasswordHash string    `gorm:"type:varchar(255);not null" json:"-"`
	FullName     *string   `gorm:"type:varchar(255)" json:"fullName,omitempty"`
	PhoneNumber  *string   `gorm:"type:varchar(32)" json:"phoneNumber,omitempty"`
	Role         UserRole  `gorm:"type:varchar(32);not null;default:'worker'" json:"role"`
	IsActive     bool      `gorm:"not null;default:true" json:"isActive"`

	BaseModel
}

// TableName sets the table name for User model
func (User) TableName() string {
	return "users"
}

// BeforeCreate hook to set default values
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return u.BaseModel.BeforeCreate(tx)
}

// Validate performs validation checks matching the database constraints
func (u *User) Validate() error {
	if u.Email == "" {
		return fmt.Errorf("email is required")
	}
	if u.PasswordHash == "" {
		return fmt.Errorf("passwordHash is required")
	}
	if !u.Role.Valid() {
		return fmt.Errorf("invalid role: %s", u.Role)
	}
	return nil
}
