package il

import "strings"

// CandidateType is a generic collection type definition that may need the
// synthesized clone method.
type CandidateType struct {
	FullName      string   // e.g. System.Collections.Generic.RecordList`1
	Name          string   // e.g. RecordList`1
	GenericParams []string // declared parameter names, in order
	// Members is the method list as parsed when the type was discovered.
	Members []string
}

// Arity is the number of generic parameters.
func (c CandidateType) Arity() int { return len(c.GenericParams) }

// Marker selects which classes are candidates.
type Marker struct {
	// NamePrefix must prefix the unqualified type name.
	NamePrefix string
	// Capabilities are type names of which at least one must appear in the
	// base type or the implemented interfaces.
	Capabilities []string
}

// DefaultMarker matches the Record* collection family.
func DefaultMarker() Marker {
	return Marker{
		NamePrefix: "Record",
		Capabilities: []string{
			"IReadOnlyRecordCollection",
			"IEnumerable",
			"ICollection",
			"IReadOnlyCollection",
		},
	}
}

// Matches reports whether c is a top-level generic class carrying the marker.
func (m Marker) Matches(c Class) bool {
	if c.Nested || c.IsInterface() || len(c.GenericParams) == 0 || c.DeclaredName == "" {
		return false
	}
	if !strings.HasPrefix(ShortName(c.FullName), m.NamePrefix) {
		return false
	}
	if len(m.Capabilities) == 0 {
		return true
	}
	for _, capability := range m.Capabilities {
		if capability == "" {
			continue
		}
		if strings.Contains(c.Extends, capability) {
			return true
		}
		for _, impl := range c.Implements {
			if strings.Contains(impl, capability) {
				return true
			}
		}
	}
	return false
}

// Discover returns the candidate type definitions declared in src, once per
// full name, in declaration order.
func Discover(src string, m Marker) []CandidateType {
	var out []CandidateType
	seen := map[string]int{}
	for _, c := range ParseClasses(src) {
		if !m.Matches(c) {
			continue
		}
		if i, ok := seen[c.FullName]; ok {
			out[i].Members = append(out[i].Members, c.Methods...)
			continue
		}
		seen[c.FullName] = len(out)
		out = append(out, CandidateType{
			FullName:      c.FullName,
			Name:          ShortName(c.FullName),
			GenericParams: append([]string(nil), c.GenericParams...),
			Members:       append([]string(nil), c.Methods...),
		})
	}
	return out
}

// ShortName strips the namespace and any enclosing type names.
func ShortName(fullName string) string {
	if i := strings.LastIndex(fullName, "/"); i >= 0 {
		fullName = fullName[i+1:]
	}
	if strings.HasPrefix(fullName, "'") {
		return fullName
	}
	if i := strings.LastIndex(fullName, "."); i >= 0 {
		return fullName[i+1:]
	}
	return fullName
}
