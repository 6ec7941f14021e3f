package payouts

import "time"

// MaxAttempts caps the retry ladder; a payout that fails this many
// times stays failed until an operator intervenes out of band.
const MaxAttempts = 6

// backoffWindow returns the minimum wait after the given attempt count
// before the next retry: 2^attempts minutes.
func backoffWindow(attempts int) time.Duration {
	return time.Duration(1<<attempts) * time.Minute
}

// RetryEligible is the pure backoff rule: given how many attempts have
// run and when the last one started, may a retry proceed at now? When
// not, remaining reports how long is left in the window.
func RetryEligible(attempts int, lastAttemptAt, now time.Time) (eligible bool, remaining time.Duration) {
	if lastAttemptAt.IsZero() {
		return true, 0
	}
	readyAt := lastAttemptAt.Add(backoffWindow(attempts))
	if now.Before(readyAt) {
		return false, readyAt.Sub(now)
	}
	return true, 0
}
