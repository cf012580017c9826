package api_models

import (
	"errors"
	"strings"
)

// Credentials is the body of /auth/login and /auth/register
type Credentials struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

// Validate checks both fields are present
func (c Credentials) Validate() error {
	if strings.TrimSpace(c.Email) == "" {
		return errors.New("email is required")
	}
	if c.Password == "" {
		return errors.New("password is required")
	}
	return nil
}

// User is the identity returned alongside a session token
type User struct {
	ID    int    `json:"id"`
	Email string `json:"email"`
}

// AuthResponse is returned by login and register
type AuthResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// Session is the bearer credential and identity held by the dashboard.
// Token and User are always set and cleared together.
type Session struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}
