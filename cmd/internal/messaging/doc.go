// Package messaging owns the single outbound WhatsApp session used to deliver
// guest invitations.
//
// Manager drives the pairing state machine:
//
//	UNINITIALIZED -> INITIALIZING -> PAIRING -> READY
//	INITIALIZING | PAIRING | READY -> ERROR | DISCONNECTED
//	ERROR | DISCONNECTED -> INITIALIZING (Restart only)
//
// The protocol itself sits behind Driver; WhatsmeowDriver is the production
// implementation and persists its credentials in the session directory.
package messaging
