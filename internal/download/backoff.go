package download

import "time"

// Backoff returns the retry delay before attempt n (1-based): the base delay
// doubled per prior failure, clamped to the cap. Monotonic non-decreasing by
// construction.
func Backoff(baseHours, capHours, attempt int) time.Duration {
	if baseHours <= 0 {
		baseHours = 24
	}
	if capHours < baseHours {
		capHours = baseHours
	}
	if attempt < 1 {
		attempt = 1
	}

	hours := baseHours
	for i := 1; i < attempt; i++ {
		hours *= 2
		if hours >= capHours {
			hours = capHours
			break
		}
	}
	return time.Duration(hours) * time.Hour
}
