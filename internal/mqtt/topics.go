package mqtt

import "strings"

// DefaultPrefix is the topic root when none is configured.
const DefaultPrefix = "drill"

// ActionsWildcard is the subscription covering every session's action topic.
func ActionsWildcard(prefix string) string {
	return prefix + "/sessions/+/actions"
}

// ActionsTopic is where clients publish actions for one session.
func ActionsTopic(prefix, sessionID string) string {
	return prefix + "/sessions/" + sessionID + "/actions"
}

// FeedbackTopic is where results and events for one session are published.
func FeedbackTopic(prefix, sessionID string) string {
	return prefix + "/sessions/" + sessionID + "/feedback"
}

// EventsTopic carries events that do not belong to a session.
func EventsTopic(prefix string) string {
	return prefix + "/events"
}

// SessionFromActionsTopic extracts the session id from an actions topic.
func SessionFromActionsTopic(prefix, topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, prefix+"/sessions/")
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, "/actions")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}
