package models

import "time"

// Relationship is an undirected edge between two people in the relationship graph.
type Relationship struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
	Kind string `json:"kind,omitempty" yaml:"kind,omitempty"`
}

// MetadataSnapshot is the declarative form of the reference data a loader produces.
// It is compiled into an indexed, read-only view before use.
type MetadataSnapshot struct {
	Version       string              `json:"version" yaml:"version"`
	LoadedAt      time.Time           `json:"loaded_at" yaml:"-"`
	Relationships []Relationship      `json:"relationships" yaml:"relationships"`
	Insiders      map[string][]string `json:"insiders" yaml:"insiders"` // security -> traders
	Roles         map[string]string   `json:"roles" yaml:"roles"`       // trader -> role
	Cohorts       map[string][]string `json:"cohorts" yaml:"cohorts"`   // cohort -> traders
	Disclosures   []DisclosureEvent   `json:"disclosures" yaml:"disclosures"`
}
