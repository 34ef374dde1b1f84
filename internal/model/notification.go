package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Notification is a server-side alert about activity on a ticket. The
// server is authoritative; clients only change IsRead after the server
// has confirmed the mutation.
type Notification struct {
	// ID is the unique identifier for this notification.
	ID ID `json:"id"`

	// Data carries the notification payload. Only the ticket reference is
	// interpreted by the client.
	Data NotificationData `json:"data"`

	// IsRead indicates whether the user has seen this notification.
	IsRead bool `json:"isRead"`

	// CreatedAt is when this notification was generated.
	CreatedAt time.Time `json:"createdAt"`
}

// NotificationData is the free-form payload of a notification. TicketID is
// optional; every other field is kept verbatim in Extra so it survives a
// round trip through the local cache.
type NotificationData struct {
	TicketID ID
	Extra    map[string]json.RawMessage
}

// UnmarshalJSON decodes the payload object, lifting ticketId out of it.
func (d *NotificationData) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("decoding notification data: %w", err)
	}

	*d = NotificationData{}
	if raw, ok := fields["ticketId"]; ok {
		if err := d.TicketID.UnmarshalJSON(raw); err != nil {
			return fmt.Errorf("decoding notification ticketId: %w", err)
		}
		delete(fields, "ticketId")
	}
	if len(fields) > 0 {
		d.Extra = fields
	}
	return nil
}

// MarshalJSON re-assembles the payload object.
func (d NotificationData) MarshalJSON() ([]byte, error) {
	fields := make(map[string]json.RawMessage, len(d.Extra)+1)
	for k, v := range d.Extra {
		fields[k] = v
	}
	if d.TicketID != "" {
		raw, err := json.Marshal(string(d.TicketID))
		if err != nil {
			return nil, err
		}
		fields["ticketId"] = raw
	}
	return json.Marshal(fields)
}

// Text returns the string value of an extra payload field, or "" when the
// field is missing or not a string.
func (d NotificationData) Text(key string) string {
	raw, ok := d.Extra[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// Title returns the best human-readable summary of the notification.
func (n Notification) Title() string {
	for _, key := range []string{"title", "message", "subject"} {
		if s := n.Data.Text(key); s != "" {
			return s
		}
	}
	if n.Data.TicketID != "" {
		return fmt.Sprintf("Activity on ticket #%s", n.Data.TicketID)
	}
	return "Notification " + n.ID.String()
}

// NotificationSnapshot is the server's notification page: items in server
// order (newest first) and the total unread count, which may cover
// notifications that are not part of Items.
type NotificationSnapshot struct {
	Items       []Notification `json:"data"`
	UnreadCount int            `json:"unreadCount"`
}
