package realtime

import (
	"encoding/json"
	"time"

	"storefront-live/internal/model"
	"storefront-live/internal/realtime/wire"
)

const EventNotification = "notification"

// BoundEvents are bound on every connection.
var BoundEvents = []string{
	EventNotification,
	"order-created",
	"order-status-updated",
	"payment-received",
	"product-approved",
	"product-rejected",
	"low-stock",
	"seller-verified",
	"refund-requested",
}

var defaultTitles = map[string]string{
	"order-created":        "New order",
	"order-status-updated": "Order updated",
	"payment-received":     "Payment received",
	"product-approved":     "Product approved",
	"product-rejected":     "Product rejected",
	"low-stock":            "Low stock",
	"seller-verified":      "Seller account verified",
	"refund-requested":     "Refund requested",
}

var urgentByDefault = map[string]bool{
	"order-created":    true,
	"refund-requested": true,
	"low-stock":        true,
}

type eventPayload struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Urgent    *bool     `json:"urgent"`
	Timestamp time.Time `json:"timestamp"`
	ActionURL string    `json:"actionUrl"`
}

// ToNotification maps a channel event to a notification record. The payload
// id wins over the envelope id; events with neither are rejected.
func ToNotification(ev wire.ChannelEvent) (model.Notification, bool) {
	var p eventPayload
	if len(ev.Data) > 0 {
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return model.Notification{}, false
		}
	}

	id := p.ID
	if id == "" {
		id = ev.ID
	}
	if id == "" {
		return model.Notification{}, false
	}

	typ := ev.Event
	if typ == EventNotification {
		typ = p.Type
		if typ == "" {
			typ = EventNotification
		}
	}

	title := p.Title
	if title == "" {
		title = defaultTitles[typ]
	}
	urgent := urgentByDefault[typ]
	if p.Urgent != nil {
		urgent = *p.Urgent
	}

	return model.Notification{
		ID:        id,
		Type:      typ,
		Title:     title,
		Message:   p.Message,
		Urgent:    urgent,
		Timestamp: p.Timestamp,
		ActionURL: p.ActionURL,
		Data:      ev.Data,
	}, true
}

// Channels returns the subscription set for an identity: the per-user
// channel, plus a role channel for sellers and admins.
func Channels(id *model.Identity) []string {
	if id == nil || id.ID == "" {
		return nil
	}
	out := []string{wire.UserChannel(id.ID)}
	switch id.Role {
	case model.RoleSeller, model.RoleAdmin:
		out = append(out, wire.RoleChannel(string(id.Role)))
	}
	return out
}
