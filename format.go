package antipark

import (
	"fmt"
	"time"
)

// FormatDuration renders d in the daemon's log style: "47s", "3m 21s",
// "2h 0m 5s", "1d 4h 0m 0s". Sub-second components are dropped.
func FormatDuration(d time.Duration) string {
	secs := int64(d / time.Second)
	neg := ""
	if secs < 0 {
		neg = "-"
		secs = -secs
	}
	switch {
	case secs < 60:
		return fmt.Sprintf("%s%ds", neg, secs)
	case secs < 3600:
		return fmt.Sprintf("%s%dm %ds", neg, secs/60, secs%60)
	case secs < 86400:
		return fmt.Sprintf("%s%dh %dm %ds", neg, secs/3600, (secs/60)%60, secs%60)
	default:
		return fmt.Sprintf("%s%dd %dh %dm %ds", neg, secs/86400, (secs/3600)%24, (secs/60)%60, secs%60)
	}
}
