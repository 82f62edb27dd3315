package record

import "strings"

// knownSolvers lists the solver kinds we canonicalize casing for. The set
// covers the solvers seen in production run archives.
var knownSolvers = []string{
	"ANSYS",
	"OpenFOAM",
	"Abaqus",
	"CalculiX",
	"Fluent",
}

// CanonicalSolverKind trims the input and normalizes casing for known
// solver kinds. Unknown kinds pass through trimmed so free-form
// categoricals survive unchanged.
func CanonicalSolverKind(kind string) string {
	kind = strings.TrimSpace(kind)

	for _, known := range knownSolvers {
		if strings.EqualFold(kind, known) {
			return known
		}
	}

	return kind
}

// KnownSolverKinds returns the canonical names of all recognized solvers.
func KnownSolverKinds() []string {
	kinds := make([]string, len(knownSolvers))
	copy(kinds, knownSolvers)

	return kinds
}
