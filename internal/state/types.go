package state

import "slices"

type State struct {
	Units map[string]UnitState
}

// UnitState records the remote ids a unit created in its last pass.
type UnitState struct {
	Kind      string   `json:"kind"`
	Scope     string   `json:"scope"`
	IDs       []string `json:"ids"`
	UpdatedAt int64    `json:"updatedAt"`
}

func NewState() State {
	return State{Units: make(map[string]UnitState)}
}

// IDs returns the managed ids of unit, or nil when the unit is unknown.
func (s State) IDs(unit string) []string {
	return slices.Clone(s.Units[unit].IDs)
}
