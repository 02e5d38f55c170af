package models

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Role is the closed set of actor kinds.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleUser   Role = "user"
	RoleDriver Role = "driver"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(s)); r {
	case RoleAdmin, RoleUser, RoleDriver:
		return r, nil
	}
	return "", fmt.Errorf("%w: unknown role %q", ErrUnauthorized, s)
}

// Principal is the authenticated caller.
type Principal struct {
	UserID uuid.UUID
	Role   Role
}

func (p Principal) IsAdmin() bool  { return p.Role == RoleAdmin }
func (p Principal) IsDriver() bool { return p.Role == RoleDriver }

// CanViewOrder: admins, the owner, and the assigned driver.
func (p Principal) CanViewOrder(o *Order) bool {
	switch p.Role {
	case RoleAdmin:
		return true
	case RoleDriver:
		return o.DriverID != nil && *o.DriverID == p.UserID
	default:
		return o.UserID == p.UserID
	}
}

// CanCancelOrder: only the owner.
func (p Principal) CanCancelOrder(o *Order) bool {
	return o.UserID == p.UserID
}

// CanSetStatus: admins move orders through fulfilment.
func (p Principal) CanSetStatus() bool { return p.IsAdmin() }

// CanDeliver: drivers browse and claim orders.
func (p Principal) CanDeliver() bool { return p.IsDriver() }

// CanListAllOrders: admins only.
func (p Principal) CanListAllOrders() bool { return p.IsAdmin() }
