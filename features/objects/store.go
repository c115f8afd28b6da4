// Package objects implements item management: creating and deleting items,
// attaching abilities to them, and reading or updating their properties.
//
// Store is the in-memory space an item server answers from. It may be shared
// by every connection a server accepts.
package objects

import (
	"path"
	"sort"
	"sync"

	"github.com/google/uuid"
)

const (
	ParamAbility = "ability"
	ParamFilter  = "filter"

	ReasonNoSuchItem    = "no such item"
	ReasonNoSuchAbility = "no such ability"
)

type Item struct {
	ID        string
	Props     map[string]string
	Abilities map[string]map[string]string
}

type Store struct {
	mu    sync.RWMutex
	items map[string]*Item
}

func NewStore() *Store {
	return &Store{items: make(map[string]*Item)}
}

func (s *Store) Create(props map[string]string) string {
	item := &Item{
		ID:        uuid.NewString(),
		Props:     copyProps(props),
		Abilities: make(map[string]map[string]string),
	}
	s.mu.Lock()
	s.items[item.ID] = item
	s.mu.Unlock()
	return item.ID
}

func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return false
	}
	delete(s.items, id)
	return true
}

func (s *Store) AddAbility(id, ability string, props map[string]string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return false
	}
	item.Abilities[ability] = copyProps(props)
	return true
}

// RemoveAbility reports whether the item exists and whether it had the ability.
func (s *Store) RemoveAbility(id, ability string) (found, had bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return false, false
	}
	_, had = item.Abilities[ability]
	delete(item.Abilities, ability)
	return true, had
}

func (s *Store) Update(id string, props map[string]string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return false
	}
	for k, v := range props {
		item.Props[k] = v
	}
	return true
}

// Properties returns the item's properties whose names match the glob filter;
// an empty filter matches everything. Ability properties are listed as
// "ability.name".
func (s *Store) Properties(id, filter string) (map[string]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return nil, false
	}

	out := make(map[string]string)
	add := func(k, v string) {
		if filter == "" {
			out[k] = v
			return
		}
		if ok, _ := path.Match(filter, k); ok {
			out[k] = v
		}
	}
	for k, v := range item.Props {
		add(k, v)
	}
	for name, props := range item.Abilities {
		for k, v := range props {
			add(name+"."+k, v)
		}
	}
	return out, true
}

func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.items))
	for id := range s.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func copyProps(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
