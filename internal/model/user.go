package model

import (
    "time"

    "gopkg.in/guregu/null.v4"
)

// User is an account document.  PasswordHash is a bcrypt hash and never
// leaves the service.
type User struct {
    ID           string      `json:"id"`
    Email        string      `json:"email"`
    PasswordHash string      `json:"passwordHash"`
    Role         Role        `json:"role"`
    Name         null.String `json:"name"`
    PhoneNumber  null.String `json:"phoneNumber"`
    IsActive     bool        `json:"isActive"`
    CreatedAt    time.Time   `json:"createdAt"`
}

// RefreshToken is stored under the SHA-256 hex digest of the raw token;
// the raw value is only ever held by the client.
type RefreshToken struct {
    ID        string    `json:"id"`
    UserID    string    `json:"userId"`
    ExpiresAt time.Time `json:"expiresAt"`
    Revoked   bool      `json:"revoked"`
    RevokedAt null.Time `json:"revokedAt"`
    CreatedAt time.Time `json:"createdAt"`
}

// Now returns the current UTC time truncated to whole seconds.  Stored
// timestamps use this so their JSON form sorts lexicographically.
func Now() time.Time { return time.Now().UTC().Truncate(time.Second) }
