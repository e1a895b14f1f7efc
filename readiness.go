package udpcast

import "time"

// ShouldStart decides if enough receivers joined, or enough time passed, to start the transfer.
// Zero firstConnectedAt means that nobody connected yet.
// The max wait deadline is checked first so a slowly filling group still starts on time.
func ShouldStart(
	count int,
	firstConnectedAt, now time.Time,
	minReceivers int,
	minWait, maxWait time.Duration,
) bool {
	if count == 0 || firstConnectedAt.IsZero() {
		return false
	}

	if maxWait > 0 && !now.Before(firstConnectedAt.Add(maxWait)) {
		return true
	}

	return count >= minReceivers && (minWait == 0 || !now.Before(firstConnectedAt.Add(minWait)))
}
