package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-multierror"

	"github.com/evanofslack/cf-edge-sync/internal/metrics"
	"github.com/evanofslack/cf-edge-sync/internal/provider"
)

// Set reconciles a desired list of items against the remote items a unit
// previously created. A Set is not safe for concurrent passes; callers
// serialize passes per scope.
type Set[D, R any] struct {
	dir     Directory[D, R]
	kind    Kind[D, R]
	scope   Scope
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewSet[D, R any](dir Directory[D, R], kind Kind[D, R], scope Scope, m *metrics.Metrics, logger *slog.Logger) *Set[D, R] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Set[D, R]{
		dir:     dir,
		kind:    kind,
		scope:   scope,
		metrics: m,
		logger:  logger.With("unit", scope.Unit),
	}
}

// Reconcile lists remote state once, upserts every desired item and then
// deletes managed ids no longer produced by desired state.
//
// The first upsert failure aborts the pass: later items are not attempted
// and nothing is deleted. The partial results are returned with the error.
// Deletion failures never abort; they are reported in Results.DeleteErr and
// the ids stay managed so the next pass retries them.
func (s *Set[D, R]) Reconcile(ctx context.Context, desired []D, managed IDSet) (Results[R], error) {
	results := newResults[R]()

	existing, err := s.list(ctx)
	if err != nil {
		return results, err
	}

	claimed := IDSet{}
	for _, d := range desired {
		var matched *R
		if m, ok := s.kind.Match(unclaimed(s.kind, existing, claimed), d); ok {
			matched = &m
		}
		remote, action, err := s.upsert(ctx, d, matched, claimed)
		if err != nil {
			return results, err
		}
		s.collect(&results, claimed, remote, action)
	}

	s.prune(ctx, managed, &results)
	return results, nil
}

// Upsert updates matched in place, or creates desired when matched is nil.
func (s *Set[D, R]) Upsert(ctx context.Context, desired D, matched *R) (R, error) {
	remote, _, err := s.upsert(ctx, desired, matched, IDSet{})
	return remote, err
}

func (s *Set[D, R]) upsert(ctx context.Context, desired D, matched *R, claimed IDSet) (R, Action, error) {
	if matched != nil {
		return s.update(ctx, desired, *matched)
	}

	name := s.kind.Describe(desired)
	created, err := s.dir.Create(ctx, s.scope.ID, desired)
	if err == nil {
		s.logger.Info("Created resource", "name", name, "id", s.kind.ID(created))
		return created, ActionCreate, nil
	}
	if !errors.Is(err, provider.ErrDuplicate) {
		var zero R
		return zero, "", fmt.Errorf("create %s: %w", name, err)
	}
	return s.recoverDuplicate(ctx, desired, claimed, err)
}

// recoverDuplicate re-lists remote state after a create was rejected as a
// duplicate and retries as an update when a match now shows up. This is the
// only recovery attempt; without a match the create error is returned.
func (s *Set[D, R]) recoverDuplicate(ctx context.Context, desired D, claimed IDSet, createErr error) (R, Action, error) {
	var zero R
	name := s.kind.Describe(desired)
	s.logger.Warn("Create rejected as duplicate, re-listing", "name", name, "error", createErr)

	existing, err := s.list(ctx)
	if err != nil {
		return zero, "", fmt.Errorf("create %s: %w (recovery: %v)", name, createErr, err)
	}
	matched, ok := s.kind.Match(unclaimed(s.kind, existing, claimed), desired)
	if !ok {
		return zero, "", fmt.Errorf("create %s: %w", name, createErr)
	}
	return s.update(ctx, desired, matched)
}

func (s *Set[D, R]) update(ctx context.Context, desired D, remote R) (R, Action, error) {
	id := s.kind.ID(remote)
	name := s.kind.Describe(desired)
	if s.kind.InSync(desired, remote) {
		s.logger.Debug("Resource in sync", "name", name, "id", id)
		return remote, ActionUnchanged, nil
	}
	updated, err := s.dir.Update(ctx, s.scope.ID, id, s.kind.ForUpdate(desired, remote))
	if err != nil {
		var zero R
		return zero, "", fmt.Errorf("update %s id=%s: %w", name, id, err)
	}
	s.logger.Info("Updated resource", "name", name, "id", id)
	return updated, ActionUpdate, nil
}

func (s *Set[D, R]) collect(results *Results[R], claimed IDSet, remote R, action Action) {
	id := s.kind.ID(remote)
	claimed.Add(id)
	results.ManagedIDs.Add(id)
	results.Records = append(results.Records, remote)
	results.record(action, id)
	s.metrics.IncOperation(s.scope.Unit, string(action))
}

// prune deletes every managed id the pass did not produce. It attempts all
// deletions; failed ids remain in results.ManagedIDs.
func (s *Set[D, R]) prune(ctx context.Context, managed IDSet, results *Results[R]) {
	var merr *multierror.Error
	for _, id := range managed.Sorted() {
		if results.ManagedIDs.Has(id) {
			continue
		}
		err := s.dir.Delete(ctx, s.scope.ID, id)
		if err != nil && !errors.Is(err, provider.ErrNotFound) {
			s.logger.Warn("Failed to delete orphaned resource", "id", id, "error", err)
			merr = multierror.Append(merr, fmt.Errorf("delete id=%s: %w", id, err))
			results.ManagedIDs.Add(id)
			continue
		}
		s.logger.Info("Deleted orphaned resource", "id", id)
		results.record(ActionDelete, id)
		s.metrics.IncOperation(s.scope.Unit, string(ActionDelete))
	}
	results.DeleteErr = merr.ErrorOrNil()
}

func (s *Set[D, R]) list(ctx context.Context) ([]R, error) {
	existing, err := s.dir.List(ctx, s.scope.ID)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.scope, err)
	}
	s.logger.Debug("Listed remote resources", "count", len(existing))
	return existing, nil
}

// Plan reports what Reconcile would do without mutating remote state.
// Duplicate recovery cannot be predicted and is not reflected.
func (s *Set[D, R]) Plan(ctx context.Context, desired []D, managed IDSet) (Plan, error) {
	var plan Plan
	existing, err := s.list(ctx)
	if err != nil {
		return plan, err
	}

	claimed := IDSet{}
	for _, d := range desired {
		name := s.kind.Describe(d)
		m, ok := s.kind.Match(unclaimed(s.kind, existing, claimed), d)
		if !ok {
			plan.Changes = append(plan.Changes, Change{Action: ActionCreate, Name: name})
			continue
		}
		id := s.kind.ID(m)
		claimed.Add(id)
		action := ActionUpdate
		if s.kind.InSync(d, m) {
			action = ActionUnchanged
		}
		plan.Changes = append(plan.Changes, Change{Action: action, Name: name, ID: id})
	}

	for _, id := range managed.Sorted() {
		if !claimed.Has(id) {
			plan.Changes = append(plan.Changes, Change{Action: ActionDelete, ID: id})
		}
	}
	return plan, nil
}
