package server

import (
	"net/http"

	"github.com/dashdb/dash/internal/model"
)

// Admission bounds in-flight requests to workers+queueCapacity, matching
// spec §4.8's "bounded queue of capacity workers*queue_factor" contract.
// Requests beyond capacity are rejected immediately with overloaded rather
// than left to queue unboundedly in front of the handler; this is a
// separate concern from internal/ratelimit's per-key sliding window, which
// bounds a single caller's rate rather than total server concurrency.
//
// Grounded on the teacher's Redis-backed limiter's fail-fast shape
// (internal/ratelimit/ratelimit.go), generalized from a distributed
// per-key counter to an in-process bounded semaphore since admission here
// guards total worker capacity, not a remote resource.
type Admission struct {
	slots chan struct{}
}

// NewAdmission returns an Admission with workers+queueCapacity total slots.
func NewAdmission(workers, queueCapacity int) *Admission {
	if workers <= 0 {
		workers = 1
	}
	if queueCapacity < 0 {
		queueCapacity = 0
	}
	return &Admission{slots: make(chan struct{}, workers+queueCapacity)}
}

func admissionMiddleware(a *Admission, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case a.slots <- struct{}{}:
			defer func() { <-a.slots }()
			next.ServeHTTP(w, r)
		default:
			writeError(w, r, model.KindOverloaded.HTTPStatus(), model.ErrCodeOverloaded, "admission queue full")
		}
	})
}

// InFlight reports the current number of admitted-but-not-yet-completed
// requests, exposed on GET /metrics.
func (a *Admission) InFlight() int { return len(a.slots) }

// Capacity returns the total number of concurrent+queued slots.
func (a *Admission) Capacity() int { return cap(a.slots) }
