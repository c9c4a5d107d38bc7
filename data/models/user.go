package models

import "time"

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type User struct {
	ID            int64     `json:"id" db:"id" readOnly:"true"`
	Name          string    `validate:"required,max=100" json:"name" db:"name"`
	Email         string    `validate:"required,email" json:"email" db:"email"`
	Password      string    `validate:"required" json:"-" db:"password"`
	Role          string    `validate:"oneof=user admin" json:"role" db:"role"`
	EmailVerified bool      `json:"emailVerified" db:"email_verified"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at" readOnly:"true"`
}

func (User) TableName() string {
	return "users"
}

func (u User) ColumnNames() []string {
	return GetColumnNames(u, true)
}

func (u User) GetID() int64 {
	return u.ID
}

func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
