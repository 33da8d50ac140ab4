package orchestrator

import (
	"sync"

	"github.com/rs/zerolog/log"

	"docflow/internal/model"
	"docflow/internal/processor"
)

// Registry is the central jobType -> processor binding, resolved when a
// worker claims a job. PDF job types all map to the one PDF processor.
type Registry struct {
	processors map[model.JobType]processor.Processor
	mu         sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{processors: make(map[model.JobType]processor.Processor)}
}

// Register binds a processor to one or more job types.
func (r *Registry) Register(p processor.Processor, types ...model.JobType) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range types {
		r.processors[t] = p

		log.Info().
			Str("jobType", string(t)).
			Str("processor", p.Name()).
			Msg("Registered job processor")
	}
}

// Get resolves the processor for a job type.
func (r *Registry) Get(t model.JobType) (processor.Processor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.processors[t]
	return p, ok
}

// RegisteredTypes lists every job type with a bound processor.
func (r *Registry) RegisteredTypes() []model.JobType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]model.JobType, 0, len(r.processors))
	for t := range r.processors {
		types = append(types, t)
	}
	return types
}
