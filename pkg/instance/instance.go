package instance

import (
	"fmt"
	"os"
)

// GetID returns the worker instance identifier used in lock owners and task logs.
func GetID() string {
	if id := os.Getenv("HERFA_WORKER_ID"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	return "worker-0"
}
