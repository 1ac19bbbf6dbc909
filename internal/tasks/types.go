// Package tasks defines the queued task types and their payloads.
package tasks

// Task type constants
const (
	TypeBuildRequest = "build:request"
)

// Task queue names
const (
	QueueBuilds = "builds"
)

// BuildRequestPayload asks a worker to run the full pipeline for one
// manifest service.
type BuildRequestPayload struct {
	BuildID string `json:"build_id"`
	Service string `json:"service"`
}
