package models

import (
	"time"
)

// Role gates access to admin-only endpoints.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Locality is the city/state/area tuple used for offer eligibility.
type Locality struct {
	City  string `bson:"city" json:"city"`
	State string `bson:"state" json:"state"`
	Area  string `bson:"area" json:"area"`
}

// IsEmpty reports whether no locality field is set.
func (l Locality) IsEmpty() bool {
	return l.City == "" && l.State == "" && l.Area == ""
}

// User represents a registered buyer or an administrator.
type User struct {
	Base         `bson:",inline"`
	Name         string `bson:"name" json:"name"`
	Email        string `bson:"email" json:"email"`
	PasswordHash string `bson:"password" json:"-"`
	Role         Role   `bson:"role" json:"role"`
	Locality     `bson:",inline"`
	IsLoggedIn   bool      `bson:"is_logged_in" json:"is_logged_in"`
	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at" json:"updated_at"`
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
