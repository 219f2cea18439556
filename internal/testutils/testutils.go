// Package testutils holds small test helpers shared across package
// boundaries.
package testutils

import (
	"context"
	"fmt"
	"time"
)

// MockTimerMessage builds a well-formed INDEX;SOURCE;CHANNEL;REFID;TOD wire
// message for a given channel and refid, stamped "now".
func MockTimerMessage(index int, channel, refid string) string {
	return fmt.Sprintf("%d;%s;%s;%s;now", index, channel, channel, refid)
}

// WaitForCondition polls condition until it returns true or timeout elapses.
func WaitForCondition(condition func() bool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for condition")
		case <-ticker.C:
			if condition() {
				return nil
			}
		}
	}
}
