package offlinesync

import "time"

// audioUploadBackoff computes the delay before retry attempt n (0-indexed,
// the delay awaited *after* attempt n fails) as initial*2^n capped at max.
// This mirrors the exponential-backoff shape of the teacher's
// domain.RetryInfo.CalculateNextRetryDelay, with jitter disabled so the
// exact 1s/2s/4s/10s-cap contract stays testable.
func audioUploadBackoff(attempt int, initial, max time.Duration) time.Duration {
	delay := initial
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay > max {
			return max
		}
	}
	if delay > max {
		delay = max
	}
	return delay
}
