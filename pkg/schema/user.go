// Package schema defines universal data structures shared by the Syncline
// daemon, configuration and clients.
package schema

import "time"

// Account is a credentialed identity known to a daemon. The bearer token
// is accepted on the wire but never serialized back out.
type Account struct {
	ID          string    `json:"id" yaml:"id"`
	DisplayName string    `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	Token       string    `json:"-" yaml:"token"`
	Roles       []string  `json:"roles,omitempty" yaml:"roles,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}
