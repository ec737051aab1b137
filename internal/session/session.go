// Package session identifies one training run and exposes a live status
// snapshot of it, primarily for the healthcheck endpoint.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vk/nmtkit/internal/trainer"
)

// Session is one training run with a unique identity.
type Session struct {
	id        string
	startedAt time.Time

	mu  sync.Mutex
	kit *trainer.Kit
}

// Status is a point-in-time snapshot of a session.
type Status struct {
	ID            string  `json:"id"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Epoch         int     `json:"epoch"`
	Step          int     `json:"step"`
	BestCriteria  float64 `json:"best_criteria"`
	Training      bool    `json:"training"`
}

// New creates a session with a fresh run id.
func New() *Session {
	return &Session{id: uuid.NewString(), startedAt: time.Now()}
}

// ID returns the run id.
func (s *Session) ID() string { return s.id }

// Attach binds the trainer whose progress this session reports.
func (s *Session) Attach(kit *trainer.Kit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kit = kit
}

// Status reports the current run state. Before a trainer is attached only
// identity and uptime are populated.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{
		ID:            s.id,
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
	}
	if s.kit != nil {
		status.Training = true
		status.Epoch = s.kit.Epoch()
		status.Step = s.kit.Step()
		status.BestCriteria = s.kit.BestCriteria()
	}
	return status
}
