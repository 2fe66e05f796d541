// Package notifier defines the trainer notification port and capabilities.
package notifier

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when a notifier is not properly configured.
var ErrNotConfigured = errors.New("notifier: not configured")

// Notification is the payload sent through a Notifier.
type Notification struct {
	Recipient string            `json:"recipient"` // trainer id
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Level     string            `json:"level"`  // "info", "warning", "critical"
	Source    string            `json:"source"` // e.g. "approvals.created"
	Fields    map[string]string `json:"fields,omitempty"`
}

// Capabilities declares which features a notifier supports.
type Capabilities struct {
	RichFormatting bool `json:"rich_formatting"`
	// Targeted sinks deliver to the recipient only; broadcast sinks post to a shared channel.
	Targeted bool `json:"targeted"`
}

// Notifier is the port interface for sending notifications.
type Notifier interface {
	Name() string
	Capabilities() Capabilities
	Send(ctx context.Context, n Notification) error
}
