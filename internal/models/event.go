package models

import "time"

// ContextType identifies the domain a resolved context belongs to and selects
// the planning strategy.
type ContextType string

// Context types. Anything else falls through to the generic strategy.
const (
	ContextJira       ContextType = "jira"
	ContextGitHub     ContextType = "github"
	ContextSlack      ContextType = "slack"
	ContextCI         ContextType = "ci"
	ContextDeployment ContextType = "deployment"
	ContextGeneric    ContextType = "generic"
)

// ProcessedEvent is a normalized inbound trigger from an external system.
type ProcessedEvent struct {
	ID          string                 // Unique event identifier
	Source      string                 // Origin system: jira, github, slack, ci, deployment
	EventType   string                 // Source-specific type (issue_updated, pr_opened, build_failed, ...)
	Title       string                 // Short human-readable summary
	Description string                 // Longer free-form body
	Payload     map[string]interface{} // Source-specific fields, opaque to the core
	ReceivedAt  time.Time
}

// ResolvedContext is the situational-awareness bundle an external context
// resolver builds for one event. The core treats PrimaryObject as opaque,
// keyed data.
type ResolvedContext struct {
	ContextType         ContextType
	PrimaryObject       map[string]interface{}   // The issue/PR/message/build at the center of the event
	RelatedIssues       []map[string]interface{} // Linked issues
	RelatedPRs          []map[string]interface{} // Linked pull requests
	RelatedMessages     []map[string]interface{} // Linked chat messages
	ComplexityScore     float64                  // Estimated work complexity, [0,1]
	ContextCompleteness float64                  // How much of the picture was resolved, [0,1]
	UrgencyIndicators   []string                 // Signals like "production", "outage", "blocker"
	ResolvedAt          time.Time
}

// StringField returns a string field from the primary object, or "" when
// absent or not a string.
func (c *ResolvedContext) StringField(key string) string {
	if c == nil || c.PrimaryObject == nil {
		return ""
	}
	if v, ok := c.PrimaryObject[key].(string); ok {
		return v
	}
	return ""
}

// Urgent reports whether any urgency indicator is present.
func (c *ResolvedContext) Urgent() bool {
	return c != nil && len(c.UrgencyIndicators) > 0
}
