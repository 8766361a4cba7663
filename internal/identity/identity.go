package identity

import (
	"errors"
	"strings"
)

var ErrUnknownRole = errors.New("unknown role")

// Role is the admission role assigned to a user. Each role has a
// matching connection group of the same name.
type Role string

const (
	RoleAdmin Role = "Admin"
	RoleUser  Role = "User"
)

func ParseRole(s string) (Role, error) {
	switch {
	case strings.EqualFold(s, string(RoleAdmin)):
		return RoleAdmin, nil
	case strings.EqualFold(s, string(RoleUser)):
		return RoleUser, nil
	}
	return "", ErrUnknownRole
}

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

// Group is the name of the connection group for this role.
func (r Role) Group() string {
	return string(r)
}

// Identity is a verified email/role pair. It is immutable for the
// lifetime of a connection: a role change while a connection is open
// does not rebind the connection.
type Identity struct {
	Email string
	Role  Role
}

func (id Identity) IsZero() bool {
	return id.Email == "" || !id.Role.Valid()
}
