package backfill

import "hash/fnv"

// sampled reports whether a span falls inside the sample percentage. The
// decision hashes the span id, so re-running a job with the same
// percentage selects exactly the same spans regardless of scan order or
// process restarts.
func sampled(spanID string, percentage int) bool {
	if percentage >= 100 {
		return true
	}
	if percentage <= 0 {
		return false
	}
	h := fnv.New32a()
	h.Write([]byte(spanID))
	return h.Sum32()%100 < uint32(percentage)
}
