package events

import "fmt"

var allowedEvents = map[string]struct{}{
	// session
	"session.started":         {},
	"session.action":          {},
	"session.action_rejected": {},
	"session.completed":       {},
	"session.abandoned":       {},

	// profile
	"profile.updated":       {},
	"profile.update_failed": {},

	// scenario
	"scenario.stored":    {},
	"scenario.rejected":  {},
	"scenario.generated": {},
	"scenario.fallback":  {},

	// transport
	"mqtt.connected":    {},
	"mqtt.disconnected": {},
	"notify.failed":     {},

	// system
	"system.startup":  {},
	"system.shutdown": {},
	"system.error":    {},
}

// Validate returns an error for event names outside the registry.
func Validate(event string) error {
	if _, ok := allowedEvents[event]; !ok {
		return fmt.Errorf("unknown event: %s", event)
	}
	return nil
}

// Terminal reports whether the event marks the end of a session.
func Terminal(event string) bool {
	return event == "session.completed" || event == "session.abandoned"
}
