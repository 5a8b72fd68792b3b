// Package signaling implements the WebSocket signaling surface: one
// connection per participant, a JSON message envelope, and a router that
// relays SDP offers/answers, ICE candidates, chat, and participant updates
// between members of a meeting.
//
// Delivery is fire-and-forget. A recipient whose outbound queue is full or
// whose connection is gone is skipped; the sender is never told.
package signaling
