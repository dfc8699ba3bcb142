package api

import "github.com/google/uuid"

// newJobID assigns a globally unique, opaque job_id at submission time.
func newJobID() string {
	return uuid.New().String()
}
