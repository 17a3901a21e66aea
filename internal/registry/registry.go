package registry

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

var (
	ErrNoSuchTopic       = errors.New("registry: no such topic")
	ErrAlreadySubscribed = errors.New("registry: already subscribed")
	ErrNotSubscribed     = errors.New("registry: not subscribed")
	ErrInvalidTopic      = errors.New("registry: invalid topic name")
)

// Member is anything that can be subscribed to a topic.
// ID must be unique among live members.
type Member interface {
	ID() string
}

// Registry maps provisioned topics to their subscriber sets.
//
// Every method holds the same mutex for its whole duration, so the methods
// are linearizable with respect to each other.
type Registry[M Member] struct {
	mu     sync.Mutex
	topics *orderedmap.OrderedMap[string, *orderedmap.OrderedMap[string, M]]
}

// New creates a registry with the given topics provisioned.
// Duplicate names are provisioned once.
func New[M Member](topics ...string) (*Registry[M], error) {
	r := &Registry[M]{
		topics: orderedmap.New[string, *orderedmap.OrderedMap[string, M]](),
	}
	for _, name := range topics {
		if err := ValidateTopic(name); err != nil {
			return nil, err
		}
		if _, ok := r.topics.Get(name); !ok {
			r.topics.Set(name, orderedmap.New[string, M]())
		}
	}
	return r, nil
}

// ValidateTopic checks that a topic name is non-empty and has no whitespace.
func ValidateTopic(name string) error {
	if name == "" || strings.IndexFunc(name, unicode.IsSpace) >= 0 {
		return fmt.Errorf("%w: %q", ErrInvalidTopic, name)
	}
	return nil
}

// Subscribe adds m to the subscriber set of topic.
func (r *Registry[M]) Subscribe(topic string, m M) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.topics.Get(topic)
	if !ok {
		return ErrNoSuchTopic
	}
	if _, ok := subs.Get(m.ID()); ok {
		return ErrAlreadySubscribed
	}
	subs.Set(m.ID(), m)
	return nil
}

// Unsubscribe removes m from the subscriber set of topic.
func (r *Registry[M]) Unsubscribe(topic string, m M) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.topics.Get(topic)
	if !ok {
		return ErrNoSuchTopic
	}
	if _, ok := subs.Delete(m.ID()); !ok {
		return ErrNotSubscribed
	}
	return nil
}

// Publish returns a snapshot of the subscribers of topic, in subscription
// order, without sender. The snapshot is safe to use after the call returns.
func (r *Registry[M]) Publish(topic string, sender M) ([]M, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.topics.Get(topic)
	if !ok {
		return nil, ErrNoSuchTopic
	}

	targets := make([]M, 0, subs.Len())
	for pair := subs.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Key == sender.ID() {
			continue
		}
		targets = append(targets, pair.Value)
	}
	return targets, nil
}

// RemoveMember drops m from every topic. It returns the topics m was
// subscribed to; calling it again returns nothing.
func (r *Registry[M]) RemoveMember(m M) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for pair := r.topics.Oldest(); pair != nil; pair = pair.Next() {
		if _, ok := pair.Value.Delete(m.ID()); ok {
			removed = append(removed, pair.Key)
		}
	}
	return removed
}

// HasTopic reports whether topic was provisioned.
func (r *Registry[M]) HasTopic(topic string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.topics.Get(topic)
	return ok
}

// Topics lists the provisioned topics in provisioning order.
func (r *Registry[M]) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, r.topics.Len())
	for pair := r.topics.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

// Subscribers returns a snapshot of every subscriber of topic.
func (r *Registry[M]) Subscribers(topic string) ([]M, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.topics.Get(topic)
	if !ok {
		return nil, ErrNoSuchTopic
	}
	out := make([]M, 0, subs.Len())
	for pair := subs.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out, nil
}
