package metering

import "fmt"

// Capability represents a billable agent category being metered.
// The set is closed: an unrecognized capability is rejected at the system
// boundary rather than silently creating a new counter namespace.
type Capability string

const (
	// CapabilityEmail tracks email processing agents
	CapabilityEmail Capability = "EMAIL"

	// CapabilityInvoice tracks invoice detection agents
	CapabilityInvoice Capability = "INVOICE"

	// CapabilityMeeting tracks meeting scheduling agents
	CapabilityMeeting Capability = "MEETING"
)

// String returns the string representation of Capability
func (c Capability) String() string {
	return string(c)
}

// IsValid returns true if the capability is valid
func (c Capability) IsValid() bool {
	switch c {
	case CapabilityEmail, CapabilityInvoice, CapabilityMeeting:
		return true
	}
	return false
}

// DisplayName returns a human-readable name for the capability
func (c Capability) DisplayName() string {
	switch c {
	case CapabilityEmail:
		return "Email Processing"
	case CapabilityInvoice:
		return "Invoice Detection"
	case CapabilityMeeting:
		return "Meeting Scheduling"
	default:
		return string(c)
	}
}

// AllCapabilities returns all valid capabilities
func AllCapabilities() []Capability {
	return []Capability{
		CapabilityEmail,
		CapabilityInvoice,
		CapabilityMeeting,
	}
}

// ParseCapability parses a string into a Capability
func ParseCapability(s string) (Capability, error) {
	c := Capability(s)
	if !c.IsValid() {
		return "", fmt.Errorf("invalid capability: %s", s)
	}
	return c, nil
}

// ActionType represents the kind of billable action recorded by a producer.
// Like Capability, the set is closed and validated at the boundary.
type ActionType string

const (
	// ActionProcessed marks a unit of work fully handled by an agent
	ActionProcessed ActionType = "PROCESSED"

	// ActionDetected marks a document or entity recognized by an agent
	ActionDetected ActionType = "DETECTED"

	// ActionScheduled marks a calendar booking created by an agent
	ActionScheduled ActionType = "SCHEDULED"

	// ActionGenerated marks an artifact produced by an agent
	ActionGenerated ActionType = "GENERATED"
)

// String returns the string representation of ActionType
func (a ActionType) String() string {
	return string(a)
}

// IsValid returns true if the action type is valid
func (a ActionType) IsValid() bool {
	switch a {
	case ActionProcessed, ActionDetected, ActionScheduled, ActionGenerated:
		return true
	}
	return false
}

// AllowedFor returns true if this action type is meaningful for the
// given capability. Email agents process and generate; invoice agents
// detect and process; meeting agents schedule.
func (a ActionType) AllowedFor(c Capability) bool {
	switch c {
	case CapabilityEmail:
		return a == ActionProcessed || a == ActionGenerated
	case CapabilityInvoice:
		return a == ActionDetected || a == ActionProcessed
	case CapabilityMeeting:
		return a == ActionScheduled
	}
	return false
}

// ParseActionType parses a string into an ActionType
func ParseActionType(s string) (ActionType, error) {
	a := ActionType(s)
	if !a.IsValid() {
		return "", fmt.Errorf("invalid action type: %s", s)
	}
	return a, nil
}
