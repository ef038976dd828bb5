package activity

import (
	"sort"
	"strings"
)

// Type is the upstream sport_type/type string, e.g. "Ride".
type Type string

const (
	TypeRide             Type = "Ride"
	TypeVirtualRide      Type = "VirtualRide"
	TypeMountainBikeRide Type = "MountainBikeRide"
	TypeGravelRide       Type = "GravelRide"
	TypeEBikeRide        Type = "EBikeRide"
	TypeRun              Type = "Run"
	TypeTrailRun         Type = "TrailRun"
	TypeVirtualRun       Type = "VirtualRun"
	TypeWalk             Type = "Walk"
	TypeHike             Type = "Hike"
	TypeSwim             Type = "Swim"
	TypeRowing           Type = "Rowing"
	TypeWorkout          Type = "Workout"
)

var knownTypes = []Type{
	TypeRide, TypeVirtualRide, TypeMountainBikeRide, TypeGravelRide, TypeEBikeRide,
	TypeRun, TypeTrailRun, TypeVirtualRun, TypeWalk, TypeHike, TypeSwim, TypeRowing, TypeWorkout,
}

// DefaultAllowedTypes are the two ride variants that count towards the year summary.
var DefaultAllowedTypes = []Type{TypeRide, TypeVirtualRide}

// ParseType normalises a type name case-insensitively.
// Unknown names are returned as given so new upstream types still round-trip.
func ParseType(input string) Type {
	trimmed := strings.TrimSpace(input)
	for _, t := range knownTypes {
		if strings.EqualFold(string(t), trimmed) {
			return t
		}
	}
	return Type(trimmed)
}

// TypeFilter is an allow-list of activity types.
type TypeFilter struct {
	allowed map[Type]struct{}
}

// NewTypeFilter builds a filter. With no types it falls back to DefaultAllowedTypes.
func NewTypeFilter(types ...Type) TypeFilter {
	if len(types) == 0 {
		types = DefaultAllowedTypes
	}
	allowed := make(map[Type]struct{}, len(types))
	for _, t := range types {
		allowed[ParseType(string(t))] = struct{}{}
	}
	return TypeFilter{allowed: allowed}
}

// ParseTypeFilter builds a filter from a comma separated list.
func ParseTypeFilter(csv string) TypeFilter {
	var types []Type
	for _, part := range strings.Split(csv, ",") {
		if part = strings.TrimSpace(part); part != "" {
			types = append(types, ParseType(part))
		}
	}
	return NewTypeFilter(types...)
}

// Allows reports whether t is on the allow-list.
func (f TypeFilter) Allows(t Type) bool {
	if f.allowed == nil {
		return NewTypeFilter().Allows(t)
	}
	_, ok := f.allowed[ParseType(string(t))]
	return ok
}

// Types returns the allowed types in a stable order.
func (f TypeFilter) Types() []Type {
	out := make([]Type, 0, len(f.allowed))
	for t := range f.allowed {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
