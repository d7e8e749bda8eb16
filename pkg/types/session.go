// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// Mode identifies which control scheme drives a session.
type Mode string

const (
	ModeLinear     Mode = "linear"
	ModeAutonomous Mode = "autonomous"
)

// Status tracks a session's lifecycle.
type Status string

const (
	StatusInitialized Status = "initialized"
	StatusRunning     Status = "running"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

// StyleGuide selects the voice of the final report.
type StyleGuide string

const (
	StyleTechnical      StyleGuide = "technical"
	StyleConversational StyleGuide = "conversational"
	StyleAcademic       StyleGuide = "academic"
	StyleDeFiReport     StyleGuide = "defi_report"
)

// ParseStyleGuide maps a user-supplied name to a StyleGuide. The empty
// string selects the technical style.
func ParseStyleGuide(s string) (StyleGuide, error) {
	switch StyleGuide(s) {
	case "":
		return StyleTechnical, nil
	case StyleTechnical, StyleConversational, StyleAcademic, StyleDeFiReport:
		return StyleGuide(s), nil
	}
	return "", &ConfigError{Field: "style_guide", Reason: fmt.Sprintf("unknown style %q", s)}
}

// Topic length bounds, in characters.
const (
	MinTopicLength = 10
	MaxTopicLength = 500
)

// ValidateTopic checks the topic length bounds.
func ValidateTopic(topic string) error {
	n := utf8.RuneCountInString(topic)
	if n < MinTopicLength || n > MaxTopicLength {
		return &ConfigError{Field: "topic", Reason: fmt.Sprintf("length %d out of range [%d,%d]", n, MinTopicLength, MaxTopicLength)}
	}
	return nil
}

// SessionConfig holds the settings fixed when a session is created.
type SessionConfig struct {
	NumResearchers        int        `json:"num_researchers" yaml:"num_researchers"`
	MaxRevisionIterations int        `json:"max_revision_iterations" yaml:"max_revision_iterations"`
	VerificationThreshold float64    `json:"verification_threshold" yaml:"verification_threshold"`
	StyleGuide            StyleGuide `json:"style_guide" yaml:"style_guide"`
}

// Session is the metadata record written to session.yaml. Everything except
// Status, CurrentStage and LastUpdated is immutable after creation.
type Session struct {
	// ID is opaque and sorts in creation order.
	ID        string        `json:"id" yaml:"id"`
	Topic     string        `json:"topic" yaml:"topic"`
	CreatedAt time.Time     `json:"created_at" yaml:"created_at"`
	Mode      Mode          `json:"mode" yaml:"mode"`
	Config    SessionConfig `json:"config" yaml:"config"`

	Status       Status    `json:"status" yaml:"status"`
	CurrentStage string    `json:"current_stage,omitempty" yaml:"current_stage,omitempty"`
	LastUpdated  time.Time `json:"last_updated,omitempty" yaml:"last_updated,omitempty"`
}

// SessionStatus is the externally visible progress of a session.
type SessionStatus struct {
	Status       Status    `json:"status" yaml:"status"`
	CurrentStage string    `json:"current_stage,omitempty" yaml:"current_stage,omitempty"`
	LastUpdated  time.Time `json:"last_updated,omitempty" yaml:"last_updated,omitempty"`
}
