package queue

import "fmt"

// Queue and key names are a cross-process protocol: the webhook receiver
// writes to names the chat process computes independently, so both sides
// must produce them bit for bit.

// AgentStreamQueue names the stream queue carrying a support agent's replies
// for one room in one environment.
func AgentStreamQueue(env, agentID, roomID string) string {
	return fmt.Sprintf("%s:agent_session:%s:%s:messages_queue", env, agentID, roomID)
}

// SessionMetadataKey names the hash holding a conversation session's
// metadata record.
func SessionMetadataKey(userID, sessionID string) string {
	return fmt.Sprintf("session:%s:%s:metadata", userID, sessionID)
}
