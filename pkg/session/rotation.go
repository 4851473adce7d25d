package session

import "time"

// AgentOnDuty resolves the support agent for a moment in time using a fixed
// weekly rotation: the weekday (Sunday = 0) indexes into the configured
// agent list modulo its length. Deterministic on purpose — every caller on
// the same day reaches the same agent. Returns "" for an empty rotation;
// config validation rejects that before it can get here.
func AgentOnDuty(agents []string, now time.Time) string {
	if len(agents) == 0 {
		return ""
	}
	return agents[int(now.Weekday())%len(agents)]
}
