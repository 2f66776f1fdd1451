package entity

import (
	"fmt"
	"strings"
	"time"
)

// Role is the closed set of account roles.
type Role string

const (
	RoleDoctor  Role = "DOCTOR"
	RolePatient Role = "PATIENT"
)

// Roles lists every valid role.
var Roles = []Role{RoleDoctor, RolePatient}

// ParseRole matches s case-insensitively against the known roles.
func ParseRole(s string) (Role, error) {
	for _, r := range Roles {
		if strings.EqualFold(string(r), strings.TrimSpace(s)) {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// User represents an account row in the `users` table.
// PasswordHash is empty for accounts created through federated login.
type User struct {
	ID             string    `db:"id" json:"id"`
	Email          string    `db:"email" json:"email"`
	PasswordHash   string    `db:"password_hash" json:"-"`
	PasswordAlgo   string    `db:"password_algo" json:"-"`
	Role           Role      `db:"role" json:"role"`
	Verified       bool      `db:"verified" json:"verified"`
	Name           string    `db:"name" json:"name"`
	Specialization string    `db:"specialization" json:"specialization,omitempty"`
	Location       string    `db:"location" json:"location,omitempty"`
	NMCNumber      string    `db:"nmc_number" json:"nmcNumber,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// Profile holds the mutable profile attributes of a user.
// Nil fields are left untouched by an update.
type Profile struct {
	Name           *string `json:"name"`
	Specialization *string `json:"specialization"`
	Location       *string `json:"location"`
	NMCNumber      *string `json:"nmcNumber"`
}

// Apply copies the set fields of p onto u.
func (p Profile) Apply(u *User) {
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.Specialization != nil {
		u.Specialization = *p.Specialization
	}
	if p.Location != nil {
		u.Location = *p.Location
	}
	if p.NMCNumber != nil {
		u.NMCNumber = *p.NMCNumber
	}
}

// PublicView is the projection returned when listing other users.
type PublicView struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Role           Role   `json:"role"`
	Verified       bool   `json:"verified"`
	Specialization string `json:"specialization,omitempty"`
	Location       string `json:"location,omitempty"`
}

// Public returns the listing projection of u.
func (u *User) Public() PublicView {
	return PublicView{
		ID:             u.ID,
		Name:           u.Name,
		Role:           u.Role,
		Verified:       u.Verified,
		Specialization: u.Specialization,
		Location:       u.Location,
	}
}
