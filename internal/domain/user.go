package domain

import "time"

type Role string

const (
	RoleAdmin Role = "ADMIN"
	RoleUser  Role = "USER"
)

type User struct {
	Id           int64     `json:"id"`
	Email        string    `json:"email"`
	FirstName    string    `json:"firstname"`
	LastName     string    `json:"lastname"`
	Role         Role      `json:"role"`
	PasswordHash string    `json:"-"`
	IsVerified   bool      `json:"isVerified"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Verification is a single-use proof of registration. The code is generated
// when the user row is inserted and the row is deleted when it is consumed.
type Verification struct {
	Id     int64
	UserId int64
	Code   string
}
