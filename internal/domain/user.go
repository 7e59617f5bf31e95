package domain

import "time"

const (
	RoleCreator = "creator"
	RoleBrand   = "brand"
	RoleAdmin   = "admin"
)

type User struct {
	UserID       string           `json:"id" dynamodbav:"user_id"`
	Username     string           `json:"username" dynamodbav:"username"`
	Email        string           `json:"email" dynamodbav:"email"`
	Phone        *string          `json:"phone" dynamodbav:"phone"`
	PasswordHash string           `json:"-" dynamodbav:"password_hash"`
	Role         string           `json:"role" dynamodbav:"role"`
	Verified     bool             `json:"verified" dynamodbav:"verified"`
	VerifiedAt   *time.Time       `json:"verified_at,omitempty" dynamodbav:"verified_at"`
	Instagram    InstagramLinkage `json:"instagram" dynamodbav:"instagram"`
	Enable       bool             `json:"enable" dynamodbav:"enable"`
	CreatedAt    time.Time        `json:"created" dynamodbav:"created_at"`
	UpdatedAt    time.Time        `json:"updated" dynamodbav:"updated_at"`
}

type RegisterRequest struct {
	Username string  `json:"username" validate:"required"`
	Email    string  `json:"email" validate:"required,email"`
	Phone    *string `json:"phone"`
	Password string  `json:"password" validate:"required,min=8,max=72"`
	Role     string  `json:"role" validate:"omitempty,oneof=creator brand"`
}
