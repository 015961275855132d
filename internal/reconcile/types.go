package reconcile

import (
	"context"
	"maps"
	"slices"
)

// Directory is the remote list/create/update/delete capability for one
// resource kind. Desired items of type D are written, remote items of type R
// are read back.
type Directory[D, R any] interface {
	List(ctx context.Context, scope string) ([]R, error)
	Create(ctx context.Context, scope string, desired D) (R, error)
	Update(ctx context.Context, scope string, id string, desired D) (R, error)
	Delete(ctx context.Context, scope string, id string) error
}

// Kind describes how desired items relate to remote items.
type Kind[D, R any] interface {
	// ID returns the remote assigned id.
	ID(remote R) string
	// Describe names a desired item in logs and errors.
	Describe(desired D) string
	// Match finds the remote item representing the desired one.
	Match(existing []R, desired D) (R, bool)
	// InSync reports whether remote already reflects desired.
	InSync(desired D, remote R) bool
	// ForUpdate returns the body sent when updating remote in place.
	ForUpdate(desired D, remote R) D
}

// Scope names one reconciliation unit and the remote container (zone or
// account id) it operates in.
type Scope struct {
	Unit string
	ID   string
}

func (s Scope) String() string {
	return s.Unit
}

type Action string

const (
	ActionCreate    Action = "create"
	ActionUpdate    Action = "update"
	ActionUnchanged Action = "unchanged"
	ActionDelete    Action = "delete"
)

// IDSet is a set of remote ids.
type IDSet map[string]struct{}

func NewIDSet(ids ...string) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

func (s IDSet) Add(id string) {
	if id != "" {
		s[id] = struct{}{}
	}
}

func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Union returns a new set holding the ids of both sets.
func (s IDSet) Union(other IDSet) IDSet {
	out := make(IDSet, len(s)+len(other))
	for id := range s {
		out.Add(id)
	}
	for id := range other {
		out.Add(id)
	}
	return out
}

// Sorted returns the ids in lexical order.
func (s IDSet) Sorted() []string {
	return slices.Sorted(maps.Keys(s))
}

type Results[R any] struct {
	ManagedIDs IDSet
	Records    []R
	Created    []string
	Updated    []string
	Unchanged  []string
	Deleted    []string
	// DeleteErr aggregates deletion failures. They do not fail the pass.
	DeleteErr error
}

func newResults[R any]() Results[R] {
	return Results[R]{ManagedIDs: IDSet{}}
}

func (r *Results[R]) record(action Action, id string) {
	switch action {
	case ActionCreate:
		r.Created = append(r.Created, id)
	case ActionUpdate:
		r.Updated = append(r.Updated, id)
	case ActionUnchanged:
		r.Unchanged = append(r.Unchanged, id)
	case ActionDelete:
		r.Deleted = append(r.Deleted, id)
	}
}

type Plan struct {
	Changes []Change
}

type Change struct {
	Action Action
	Name   string
	ID     string
}

// Count returns the number of planned changes with the given action.
func (p Plan) Count(action Action) int {
	n := 0
	for _, c := range p.Changes {
		if c.Action == action {
			n++
		}
	}
	return n
}
