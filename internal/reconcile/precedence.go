package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/evanofslack/cf-edge-sync/internal/provider"
)

// DefaultStartPrecedence seeds the precedence counter when none is set.
const DefaultStartPrecedence uint64 = 5_000_000

// Allocator imports gateway policies as ordered rules.
type Allocator struct {
	set   *Set[provider.Rule, provider.Rule]
	start uint64
}

func NewAllocator(set *Set[provider.Rule, provider.Rule], start uint64) *Allocator {
	if start == 0 {
		start = DefaultStartPrecedence
	}
	return &Allocator{set: set, start: start}
}

// Expand turns policies into one rule per filter, named "{FILTER} {name}",
// numbering precedence from start in policy then filter order.
func Expand(policies []provider.Policy, start uint64) []provider.Rule {
	var rules []provider.Rule
	precedence := start
	for _, p := range policies {
		for _, f := range p.Filters {
			rules = append(rules, provider.Rule{
				Name:          fmt.Sprintf("%s %s", strings.ToUpper(f), p.Name),
				Description:   p.Description,
				Action:        p.Action,
				Precedence:    precedence,
				Enabled:       p.IsEnabled(),
				Filters:       []string{f},
				Traffic:       p.Traffic,
				Identity:      p.Identity,
				DevicePosture: p.DevicePosture,
				Settings:      p.Settings,
			})
			precedence++
		}
	}
	return rules
}

// Allocate creates or updates the expanded rules of desired against
// existing. Updated rules keep their remote filters. The first failing
// policy aborts allocation; its name is part of the error. A zero start
// means DefaultStartPrecedence.
func (a *Allocator) Allocate(ctx context.Context, existing []provider.Rule, desired []provider.Policy, start uint64) ([]provider.Rule, error) {
	if start == 0 {
		start = DefaultStartPrecedence
	}
	results := newResults[provider.Rule]()
	err := a.allocate(ctx, existing, desired, start, &results)
	return results.Records, err
}

func (a *Allocator) allocate(ctx context.Context, existing []provider.Rule, desired []provider.Policy, start uint64, results *Results[provider.Rule]) error {
	claimed := IDSet{}
	precedence := start
	for _, p := range desired {
		for _, rule := range Expand([]provider.Policy{p}, precedence) {
			precedence++
			var matched *provider.Rule
			if m, ok := a.set.kind.Match(unclaimed(a.set.kind, existing, claimed), rule); ok {
				matched = &m
			}
			remote, action, err := a.set.upsert(ctx, rule, matched, claimed)
			if err != nil {
				return fmt.Errorf("error processing policy %q: %w", p.Name, err)
			}
			a.set.collect(results, claimed, remote, action)
		}
	}
	return nil
}

// Import lists remote rules, allocates desired policies from the configured
// start precedence and deletes managed rules no longer produced.
func (a *Allocator) Import(ctx context.Context, desired []provider.Policy, managed IDSet) (Results[provider.Rule], error) {
	results := newResults[provider.Rule]()

	existing, err := a.set.list(ctx)
	if err != nil {
		return results, err
	}
	if err := a.allocate(ctx, existing, desired, a.start, &results); err != nil {
		return results, err
	}
	a.set.prune(ctx, managed, &results)
	return results, nil
}

// Plan reports what Import would do without mutating remote state.
func (a *Allocator) Plan(ctx context.Context, desired []provider.Policy, managed IDSet) (Plan, error) {
	return a.set.Plan(ctx, Expand(desired, a.start), managed)
}
