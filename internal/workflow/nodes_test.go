package workflow

import (
	"time"

	"github.com/researchflow/orchestrator/internal/resource"
)

// testResourceManager builds a Manager generous enough that node tests
// never block on pool admission.
func testResourceManager() *resource.Manager {
	return resource.NewManager(resource.Config{
		LLMMaxConcurrent:        8,
		LLMRateLimit:            1000,
		DBMaxConnections:        8,
		DBIdleTimeout:           time.Hour,
		DBMaxAge:                time.Hour,
		WorkerMaxConcurrent:     8,
		WorkerTaskTimeout:       time.Minute,
		APIMaxConcurrentPerName: 8,
		APIRateLimitPerName:     1000,
		APIWindow:               time.Minute,
	})
}
