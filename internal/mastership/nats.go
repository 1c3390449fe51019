package mastership

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"netcontrol/internal/device"
)

const (
	keyPrefix      = "dev."
	maxCASAttempts = 8
)

// NATSService keeps role assignments in a JetStream key-value bucket. Writes
// are revision-checked; a watcher feeds the local cache so every instance
// sees every change.
type NATSService struct {
	*roleCache
	kv     jetstream.KeyValue
	logger *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewNATSService binds to bucket, creating it if needed.
func NewNATSService(ctx context.Context, nc *nats.Conn, bucket string, node NodeID, logger *slog.Logger) (*NATSService, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "device mastership",
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("mastership bucket %s: %w", bucket, err)
	}
	logger = logger.With("component", "mastership", "node", node)
	return &NATSService{
		roleCache: newRoleCache(node, logger),
		kv:        kv,
		logger:    logger,
	}, nil
}

func deviceKey(id device.ID) string {
	return keyPrefix + base64.RawURLEncoding.EncodeToString([]byte(id))
}

func parseKey(key string) (device.ID, bool) {
	enc, ok := strings.CutPrefix(key, keyPrefix)
	if !ok {
		return "", false
	}
	b, err := base64.RawURLEncoding.DecodeString(enc)
	if err != nil {
		return "", false
	}
	return device.ID(b), true
}

// Start begins watching the bucket. It returns once the current contents
// are loaded.
func (s *NATSService) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	w, err := s.kv.WatchAll(ctx)
	if err != nil {
		s.cancel()
		return fmt.Errorf("watch mastership bucket: %w", err)
	}

	ready := make(chan struct{})
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer w.Stop()
		initial := true
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-w.Updates():
				if !ok {
					return
				}
				if entry == nil {
					if initial {
						initial = false
						close(ready)
					}
					continue
				}
				s.handleEntry(entry)
			}
		}
	}()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(10 * time.Second):
		return fmt.Errorf("mastership watcher: timed out loading bucket")
	}
}

// Stop ends the watcher.
func (s *NATSService) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *NATSService) handleEntry(entry jetstream.KeyValueEntry) {
	id, ok := parseKey(entry.Key())
	if !ok {
		return
	}
	switch entry.Operation() {
	case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
		s.apply(id, nil, entry.Revision())
		return
	}
	var r record
	if err := json.Unmarshal(entry.Value(), &r); err != nil {
		s.logger.Warn("bad mastership record", "device", id, "err", err)
		return
	}
	s.apply(id, &r, entry.Revision())
}

func (s *NATSService) RequestRoleFor(ctx context.Context, id device.ID) (device.Role, error) {
	key := deviceKey(id)
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		entry, err := s.kv.Get(ctx, key)
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			r := &record{Master: s.local, Term: 1}
			data, _ := json.Marshal(r)
			rev, err := s.kv.Create(ctx, key, data)
			if errors.Is(err, jetstream.ErrKeyExists) {
				continue
			}
			if err != nil {
				return device.RoleNone, fmt.Errorf("create mastership %s: %w", id, err)
			}
			s.apply(id, r, rev)
			return device.RoleMaster, nil
		}
		if err != nil {
			return device.RoleNone, fmt.Errorf("get mastership %s: %w", id, err)
		}

		var cur record
		if err := json.Unmarshal(entry.Value(), &cur); err != nil {
			return device.RoleNone, fmt.Errorf("decode mastership %s: %w", id, err)
		}
		next, role := cur.request(s.local)
		if next == nil {
			s.apply(id, &cur, entry.Revision())
			return role, nil
		}
		data, _ := json.Marshal(next)
		rev, err := s.kv.Update(ctx, key, data, entry.Revision())
		if err != nil {
			if ctx.Err() != nil {
				return device.RoleNone, ctx.Err()
			}
			s.logger.Debug("mastership update lost race, retrying", "device", id, "attempt", attempt, "err", err)
			continue
		}
		s.apply(id, next, rev)
		return role, nil
	}
	return device.RoleNone, fmt.Errorf("request role %s: %w", id, ErrConflict)
}

func (s *NATSService) RelinquishMastership(ctx context.Context, id device.ID) error {
	key := deviceKey(id)
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		entry, err := s.kv.Get(ctx, key)
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get mastership %s: %w", id, err)
		}
		var cur record
		if err := json.Unmarshal(entry.Value(), &cur); err != nil {
			return fmt.Errorf("decode mastership %s: %w", id, err)
		}
		next := cur.relinquish(s.local)
		if next == nil {
			s.apply(id, &cur, entry.Revision())
			return nil
		}
		data, _ := json.Marshal(next)
		rev, err := s.kv.Update(ctx, key, data, entry.Revision())
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Debug("mastership update lost race, retrying", "device", id, "attempt", attempt, "err", err)
			continue
		}
		s.apply(id, next, rev)
		return nil
	}
	return fmt.Errorf("relinquish %s: %w", id, ErrConflict)
}
