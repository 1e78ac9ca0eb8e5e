package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Tokens collects an issued access token and its expiry.
type Tokens struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Account is a dev backend user record. Passwords are never stored in plaintext.
type Account struct {
	ID                    uuid.UUID // PK
	Email                 string    // unique
	FullName              string
	PwdHash               []byte // Argon2id(password, SaltAuth)
	SaltAuth              []byte
	Roles                 []string
	Permissions           []string
	Contexts              []Context
	DefaultContext        *Context
	ProfessionalProfileID string
	CreatedAt             time.Time
}

// Profile projects the account onto the identity served by /auth/me.
func (a Account) Profile() Identity {
	return Identity{
		ID:                     a.ID.String(),
		Email:                  a.Email,
		Name:                   a.FullName,
		Roles:                  a.Roles,
		Permissions:            a.Permissions,
		Contexts:               a.Contexts,
		DefaultContext:         a.DefaultContext,
		ProfessionalProfileID:  a.ProfessionalProfileID,
		HasProfessionalProfile: a.ProfessionalProfileID != "",
	}
}
