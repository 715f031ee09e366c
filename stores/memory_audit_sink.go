package stores

import (
	"context"
	"sync"

	"github.com/oarkflow/pdp"
)

// MemoryAuditSink keeps audit entries in memory, mainly for tests and
// single-process deployments.
type MemoryAuditSink struct {
	mu      sync.RWMutex
	entries []*pdp.AuditEntry
}

func NewMemoryAuditSink() *MemoryAuditSink {
	return &MemoryAuditSink{entries: make([]*pdp.AuditEntry, 0)}
}

func (s *MemoryAuditSink) Record(ctx context.Context, entry *pdp.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *MemoryAuditSink) Query(ctx context.Context, filter pdp.AuditFilter) ([]*pdp.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*pdp.AuditEntry, 0)
	for _, entry := range s.entries {
		if filter.Kind != "" && entry.Kind != filter.Kind {
			continue
		}
		if filter.SubjectID != "" && entry.SubjectID != filter.SubjectID {
			continue
		}
		if filter.ResourceID != "" && entry.ResourceID != filter.ResourceID {
			continue
		}
		if filter.Action != "" && entry.Action != filter.Action {
			continue
		}
		if !filter.StartTime.IsZero() && entry.Timestamp.Before(filter.StartTime) {
			continue
		}
		if !filter.EndTime.IsZero() && entry.Timestamp.After(filter.EndTime) {
			continue
		}
		result = append(result, entry)
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

// Len reports how many entries have been recorded.
func (s *MemoryAuditSink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
