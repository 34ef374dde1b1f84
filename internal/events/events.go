// Package events fans server-pushed events out to any number of
// independent subscribers. A Registry outlives individual push
// connections, so subscriptions survive reconnects.
package events

// Inbound events delivered by the push channel.
const (
	NotificationNew     = "notification:new"
	TicketCreated       = "ticket:created"
	TicketUpdated       = "ticket:updated"
	TicketStatusChanged = "ticket:statusChanged"
	TicketAssigned      = "ticket:assigned"
	TicketNewMessage    = "ticket:newMessage"
	TicketNew           = "ticket:new"
	TicketsRefresh      = "tickets:refresh"
	UserTyping          = "userTyping"
)

// Outbound events sent by the client.
const (
	JoinTicket  = "joinTicket"
	LeaveTicket = "leaveTicket"
	Typing      = "typing"
)

// Inbound lists every inbound event the client knows about.
var Inbound = []string{
	NotificationNew,
	TicketCreated,
	TicketUpdated,
	TicketStatusChanged,
	TicketAssigned,
	TicketNewMessage,
	TicketNew,
	TicketsRefresh,
	UserTyping,
}
