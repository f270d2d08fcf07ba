package notify

import "unicode/utf8"

// MaxStatusLength caps presence status text; clients truncate longer ones.
const MaxStatusLength = 140

// Presence show values used by the broker.
const (
	ShowChat = "chat"
	ShowAway = "away"
)

// IdlePresence is advertised while nothing is waiting on the human.
func IdlePresence() (show, status string) {
	return ShowChat, "Ready"
}

// WaitingPresence is advertised while an approval is pending.
func WaitingPresence(detail string) (show, status string) {
	if detail == "" {
		return ShowAway, "Waiting"
	}
	const prefix = "Waiting: "
	return ShowAway, prefix + truncate(detail, MaxStatusLength-len(prefix))
}

// truncate shortens s to at most max runes, marking the cut with an
// ellipsis.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max-1]) + "…"
}
