package model

import (
	"encoding/json"
	"time"
)

type Role string

const (
	RoleUser   Role = "USER"
	RoleSeller Role = "SELLER"
	RoleAdmin  Role = "ADMIN"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleSeller, RoleAdmin:
		return true
	}
	return false
}

// Identity is the authenticated user as reported by the profile service.
type Identity struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	Role       Role   `json:"role"`
	IsActive   bool   `json:"isActive"`
	IsVerified bool   `json:"isVerified"`
}

type Notification struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Read      bool            `json:"read"`
	Urgent    bool            `json:"urgent"`
	Timestamp time.Time       `json:"timestamp"`
	ActionURL string          `json:"actionUrl,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type Popup struct {
	ID             string
	NotificationID string
	CreatedAt      time.Time
}

type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateFailed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Destination is a navigation target handed to the UI layer.
type Destination string

const (
	DestLogin               Destination = "/login"
	DestLanding             Destination = "/"
	DestSessionExpired      Destination = "/login?expired=1"
	DestAdminDashboard      Destination = "/admin/dashboard"
	DestSellerDashboard     Destination = "/seller/dashboard"
	DestUserDashboard       Destination = "/account"
	DestVerificationPending Destination = "/seller/verification-pending"
)
