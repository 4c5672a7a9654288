// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wire

import "fmt"

// ProtocolVersion is the {major, minor} pair negotiated during the
// initial announcement exchange (spec.md §3, §4.1). Minor bumps are
// additive; major bumps are incompatible.
type ProtocolVersion struct {
	Major uint16
	Minor uint16
}

// CurrentProtocolVersion is the version this build speaks natively.
var CurrentProtocolVersion = ProtocolVersion{Major: 4, Minor: 0}

// String returns the dotted representation, e.g. "4.0".
func (v ProtocolVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// CompatibleWith reports whether v and other can interoperate: majors
// must match exactly, minors may differ (the higher side tolerates the
// lower side's absent trailing fields).
func (v ProtocolVersion) CompatibleWith(other ProtocolVersion) bool {
	return v.Major == other.Major
}

// Before reports whether v predates other under (major, minor) ordering.
func (v ProtocolVersion) Before(other ProtocolVersion) bool {
	if v.Major != other.Major {
		return v.Major < other.Major
	}
	return v.Minor < other.Minor
}
