package worker

import "github.com/JakeFAU/chapterforge/internal/book"

// Notification is published when a job reaches a terminal state.
type Notification struct {
	JobID       string           `json:"job_id"`
	Status      string           `json:"status"`
	Title       string           `json:"title,omitempty"`
	ArtifactURI string           `json:"artifact_uri,omitempty"`
	SHA256      string           `json:"sha256,omitempty"`
	Units       book.JobCounters `json:"units"`
	Error       string           `json:"error,omitempty"`
}

// Attributes exposes filterable message attributes.
func (n Notification) Attributes() map[string]string {
	return map[string]string{"job_id": n.JobID, "status": n.Status}
}
