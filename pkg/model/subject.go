// Package model defines the domain types for the moderation core.
package model

// Subject is a platform member that rooms are granted to and sanctions
// are applied against. Label is the display name at resolution time.
type Subject struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Scope is the platform grouping (a guild) that resources and sanctions
// live in.
type Scope struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}
