package udpcast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShouldStart(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	at := func(seconds int) time.Time {
		return t0.Add(time.Duration(seconds) * time.Second)
	}

	tests := []struct {
		name         string
		count        int
		first        time.Time
		now          time.Time
		minReceivers int
		minWait      time.Duration
		maxWait      time.Duration
		expected     bool
	}{
		{name: "no participants", count: 0, first: t0, now: at(100), expected: false},
		{name: "first connection unset", count: 3, now: at(100), minReceivers: 1, expected: false},
		{name: "min receivers not reached", count: 2, first: t0, now: at(0), minReceivers: 3, expected: false},
		{name: "min receivers reached", count: 3, first: t0, now: at(0), minReceivers: 3, expected: true},
		{name: "more than min receivers", count: 4, first: t0, now: at(0), minReceivers: 3, expected: true},
		{
			name: "max wait overrides min receivers", count: 1, first: t0, now: at(11),
			minReceivers: 5, maxWait: 10 * time.Second, expected: true,
		},
		{
			name: "max wait exactly reached", count: 1, first: t0, now: at(10),
			minReceivers: 5, maxWait: 10 * time.Second, expected: true,
		},
		{
			name: "before max wait", count: 1, first: t0, now: at(9),
			minReceivers: 5, maxWait: 10 * time.Second, expected: false,
		},
		{
			name: "min wait not elapsed", count: 3, first: t0, now: at(4),
			minReceivers: 3, minWait: 5 * time.Second, expected: false,
		},
		{
			name: "min wait elapsed", count: 3, first: t0, now: at(5),
			minReceivers: 3, minWait: 5 * time.Second, expected: true,
		},
		{
			name: "min wait elapsed but too few receivers", count: 2, first: t0, now: at(50),
			minReceivers: 3, minWait: 5 * time.Second, expected: false,
		},
		{name: "only min wait", count: 1, first: t0, now: at(6), minWait: 5 * time.Second, expected: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected,
				ShouldStart(tc.count, tc.first, tc.now, tc.minReceivers, tc.minWait, tc.maxWait))
		})
	}
}
