package mastership

import (
	"context"
	"log/slog"
	"sync"

	"netcontrol/internal/device"
)

// LocalService is the single-instance mastership service: every request is
// granted MASTER.
type LocalService struct {
	*roleCache

	mu  sync.Mutex
	rev uint64
}

// NewLocalService creates a standalone service for node.
func NewLocalService(node NodeID, logger *slog.Logger) *LocalService {
	return &LocalService{roleCache: newRoleCache(node, logger.With("component", "mastership"))}
}

func (s *LocalService) RequestRoleFor(_ context.Context, id device.ID) (device.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.get(id)
	if cur == nil {
		cur = &record{}
	}
	next, role := cur.request(s.local)
	if next != nil {
		s.rev++
		s.apply(id, next, s.rev)
	}
	return role, nil
}

func (s *LocalService) RelinquishMastership(_ context.Context, id device.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.get(id)
	if cur == nil {
		return nil
	}
	if next := cur.relinquish(s.local); next != nil {
		s.rev++
		s.apply(id, next, s.rev)
	}
	return nil
}
