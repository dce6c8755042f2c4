// CLAUDE:SUMMARY Sentinel errors for the stories service: invalid request, unknown job, overload.
package stories

import "errors"

// ErrInvalidRequest is returned when a fetch request or data query fails
// validation. No job is created for an invalid request.
var ErrInvalidRequest = errors.New("stories: invalid request")

// ErrJobNotFound is returned when a job ID is unknown.
var ErrJobNotFound = errors.New("stories: job not found")

// ErrOverloaded is returned when the dispatch queue is saturated and the
// submission cannot be accepted.
var ErrOverloaded = errors.New("stories: service overloaded")
