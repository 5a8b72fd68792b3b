// Package meeting owns the in-memory meeting registry: which participants
// belong to which meeting, and the lifecycle rules around creation, join,
// departure, and host teardown.
package meeting
