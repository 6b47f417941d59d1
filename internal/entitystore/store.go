// Package entitystore implements the entity store (component D): the
// registry of devices, child-devices and services keyed by 4-segment topic
// id, with a parent/child graph and per-entity twin (digital twin
// fragment) storage.
//
// The store itself needs no actor loop of its own — every operation
// completes synchronously under a single mutex, the same way the teacher's
// sqlite.DB serializes access with SetMaxOpenConns(1) rather than routing
// calls through a goroutine. What does run as an actor is the registration
// publisher below, which mirrors store mutations onto retained MQTT
// messages without making callers wait on the broker round trip.
package entitystore

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/thin-edge/tedge-core/internal/config"
	"github.com/thin-edge/tedge-core/internal/domain"
)

// Store implements domain.EntityStore.
type Store struct {
	cfg config.EntityStoreConfig
	log zerolog.Logger

	mu       sync.RWMutex
	entities map[string]domain.Entity   // key: TopicID.String()
	children map[string][]string        // parent key -> child keys, insertion order

	// events fires after every successful mutation so the publisher actor
	// (or the REST/MQTT API layer) can mirror it; with a nil channel nothing
	// is sent, and when the channel is full the event is dropped with a
	// warning rather than blocking the mutation.
	events chan StoreEvent
}

// StoreEvent is emitted after Register/Update/Delete/SetTwinFragment/
// ReplaceTwin succeed, so the MQTT mirror (component E) can publish the
// updated retained message without the store depending on domain.Transport
// directly.
type StoreEvent struct {
	Kind   EventKind
	Entity domain.Entity // zero value for EventDeleted beyond TopicID
}

type EventKind int

const (
	EventRegistered EventKind = iota
	EventUpdated
	EventTwinChanged
	EventDeleted
)

// New creates an empty store. events may be nil if the caller does not need
// a mirror feed (e.g. in unit tests).
func New(cfg config.EntityStoreConfig, log zerolog.Logger, events chan StoreEvent) *Store {
	return &Store{
		cfg:      cfg,
		log:      log.With().Str("component", "entitystore").Logger(),
		entities: make(map[string]domain.Entity),
		children: make(map[string][]string),
		events:   events,
	}
}

func (s *Store) emit(ev StoreEvent) {
	if s.events == nil {
		return
	}
	select {
	case s.events <- ev:
	default:
		s.log.Warn().Msg("entity event channel full, dropping mirror event")
	}
}

// Register adds a new entity. Returns ErrConflict if the topic id is
// already registered, ErrBadParent if ParentTopicID is set but unknown
// (spec §4.D invariant 1/2).
func (s *Store) Register(ctx context.Context, e domain.Entity) error {
	key := e.TopicID.String()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entities[key]; exists {
		return domain.NewEntityError(domain.EntityKindConflict, key, domain.ErrConflict)
	}
	if e.ParentTopicID != nil {
		pkey := e.ParentTopicID.String()
		if _, ok := s.entities[pkey]; !ok {
			return domain.NewEntityError(domain.EntityKindBadParent, key, domain.ErrBadParent)
		}
		s.children[pkey] = append(s.children[pkey], key)
	}
	for k := range e.Twin {
		if domain.IsReservedKey(k) {
			return domain.NewEntityError(domain.EntityKindBadKey, key, domain.ErrBadKey)
		}
	}

	s.entities[key] = e.Clone()
	s.emit(StoreEvent{Kind: EventRegistered, Entity: e.Clone()})
	return nil
}

// Get returns a copy of the entity, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id domain.TopicID) (domain.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id.String()]
	if !ok {
		return domain.Entity{}, domain.NewEntityError(domain.EntityKindNotFound, id.String(), domain.ErrNotFound)
	}
	return e.Clone(), nil
}

// Update applies mutate to a copy of the entity and stores the result if
// mutate returns nil. Reassigning ParentTopicID is validated against cycles
// (spec §4.D invariant 3).
func (s *Store) Update(ctx context.Context, id domain.TopicID, mutate func(*domain.Entity) error) error {
	key := id.String()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[key]
	if !ok {
		return domain.NewEntityError(domain.EntityKindNotFound, key, domain.ErrNotFound)
	}
	updated := e.Clone()
	if err := mutate(&updated); err != nil {
		return err
	}

	if !sameParent(e.ParentTopicID, updated.ParentTopicID) {
		if updated.ParentTopicID != nil {
			newParentKey := updated.ParentTopicID.String()
			if _, ok := s.entities[newParentKey]; !ok {
				return domain.NewEntityError(domain.EntityKindBadParent, key, domain.ErrBadParent)
			}
			if s.isDescendant(key, newParentKey) {
				return domain.NewEntityError(domain.EntityKindCycle, key, domain.ErrCycle)
			}
		}
		s.reparent(key, e.ParentTopicID, updated.ParentTopicID)
	}

	s.entities[key] = updated
	s.emit(StoreEvent{Kind: EventUpdated, Entity: updated.Clone()})
	return nil
}

// Delete removes an entity. If cascade is false and it has children,
// ErrConflict is returned; the REST API and the MQTT tombstone path always
// pass cascade=true. Returns the set of topic ids actually removed.
func (s *Store) Delete(ctx context.Context, id domain.TopicID, cascade bool) ([]domain.TopicID, error) {
	key := id.String()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entities[key]; !ok {
		return nil, domain.NewEntityError(domain.EntityKindNotFound, key, domain.ErrNotFound)
	}

	descendants := s.descendantKeys(key)
	if len(descendants) > 0 && !cascade {
		return nil, domain.NewEntityError(domain.EntityKindConflict, key, domain.ErrConflict)
	}

	removeOrder := append(descendants, key)
	var removed []domain.TopicID
	for _, k := range removeOrder {
		e := s.entities[k]
		removed = append(removed, e.TopicID)
		delete(s.entities, k)
		delete(s.children, k)
		if e.ParentTopicID != nil {
			s.removeChild(e.ParentTopicID.String(), k)
		}
		s.emit(StoreEvent{Kind: EventDeleted, Entity: domain.Entity{TopicID: e.TopicID}})
	}
	return removed, nil
}

// Query lists entities matching q, sorted by topic id string for stable
// pagination-free output.
func (s *Store) Query(ctx context.Context, q domain.EntityQuery) ([]domain.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if q.RootTopicID != nil && q.ParentTopicID != nil {
		return nil, domain.NewEntityError(domain.EntityKindBadQuery, "", domain.ErrBadQuery)
	}

	var allowed map[string]bool
	if q.RootTopicID != nil {
		rootKey := q.RootTopicID.String()
		if _, ok := s.entities[rootKey]; !ok {
			return nil, domain.NewEntityError(domain.EntityKindNotFound, rootKey, domain.ErrNotFound)
		}
		allowed = map[string]bool{rootKey: true}
		for _, k := range s.descendantKeys(rootKey) {
			allowed[k] = true
		}
	}
	if q.ParentTopicID != nil {
		parentKey := q.ParentTopicID.String()
		if _, ok := s.entities[parentKey]; !ok {
			return nil, domain.NewEntityError(domain.EntityKindNotFound, parentKey, domain.ErrNotFound)
		}
		allowed = map[string]bool{}
		for _, k := range s.children[parentKey] {
			allowed[k] = true
		}
	}

	var out []domain.Entity
	for k, e := range s.entities {
		if allowed != nil && !allowed[k] {
			continue
		}
		if q.HasEntityType && e.EntityType != q.EntityType {
			continue
		}
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TopicID.String() < out[j].TopicID.String() })
	return out, nil
}

// SetTwinFragment sets a single top-level twin key. Reserved ("@"-prefixed)
// keys are rejected with ErrBadKey (spec §3 invariant 4).
func (s *Store) SetTwinFragment(ctx context.Context, id domain.TopicID, key string, value any) error {
	if domain.IsReservedKey(key) {
		return domain.NewEntityError(domain.EntityKindBadKey, id.String(), domain.ErrBadKey)
	}
	return s.Update(ctx, id, func(e *domain.Entity) error {
		if value == nil {
			delete(e.Twin, key)
			return nil
		}
		if e.Twin == nil {
			e.Twin = make(map[string]any)
		}
		e.Twin[key] = value
		return nil
	})
}

// ReplaceTwin overwrites the entire twin map: existing keys not present in
// twin are cleared, and any key explicitly given a null value is omitted
// rather than stored (spec §4.D "replace_twin": "keys with null values
// delete; other existing keys cleared").
func (s *Store) ReplaceTwin(ctx context.Context, id domain.TopicID, twin map[string]any) error {
	next := make(map[string]any, len(twin))
	for k, v := range twin {
		if domain.IsReservedKey(k) {
			return domain.NewEntityError(domain.EntityKindBadKey, id.String(), domain.ErrBadKey)
		}
		if v == nil {
			continue
		}
		next[k] = v
	}
	return s.Update(ctx, id, func(e *domain.Entity) error {
		e.Twin = next
		return nil
	})
}

// GetTwin returns a copy of the entity's twin map.
func (s *Store) GetTwin(ctx context.Context, id domain.TopicID) (map[string]any, error) {
	e, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.Twin, nil
}

func sameParent(a, b *domain.TopicID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// isDescendant reports whether candidate is already a descendant of node —
// used to reject a reparent that would introduce a cycle.
func (s *Store) isDescendant(node, candidate string) bool {
	for _, k := range s.descendantKeys(node) {
		if k == candidate {
			return true
		}
	}
	return false
}

// descendantKeys does a breadth-first walk of the children graph, per the
// spec's stated policy of not maintaining embedded child lists on the
// entity record itself.
func (s *Store) descendantKeys(rootKey string) []string {
	var out []string
	queue := append([]string(nil), s.children[rootKey]...)
	for len(queue) > 0 {
		k := queue[0]
		queue = queue[1:]
		out = append(out, k)
		queue = append(queue, s.children[k]...)
	}
	return out
}

func (s *Store) reparent(key string, oldParent, newParent *domain.TopicID) {
	if oldParent != nil {
		s.removeChild(oldParent.String(), key)
	}
	if newParent != nil {
		s.children[newParent.String()] = append(s.children[newParent.String()], key)
	}
}

func (s *Store) removeChild(parentKey, childKey string) {
	kids := s.children[parentKey]
	for i, k := range kids {
		if k == childKey {
			s.children[parentKey] = append(kids[:i], kids[i+1:]...)
			return
		}
	}
}
