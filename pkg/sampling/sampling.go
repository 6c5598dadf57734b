// Package sampling defines the sample methods a source adapter can render.
package sampling

import (
	"fmt"
	"strings"
)

// Method names as they appear in configuration.
const (
	MethodBernoulli = "bernoulli"
	MethodRowCount  = "row_count"
)

// ValidMethods contains all known sample method names.
var ValidMethods = []string{MethodBernoulli, MethodRowCount}

// IsValidMethod checks if the given name is a known sample method.
func IsValidMethod(name string) bool {
	for _, m := range ValidMethods {
		if m == name {
			return true
		}
	}
	return false
}

// Method selects a random subset of a relation's rows. Adapters switch on the
// concrete type to render the dialect's sampling clause.
type Method interface {
	Name() string
	String() string
}

// Bernoulli keeps each row independently with the given probability.
type Bernoulli struct {
	Probability float64
}

func (b Bernoulli) Name() string { return MethodBernoulli }

func (b Bernoulli) String() string {
	return fmt.Sprintf("%s(probability=%g)", MethodBernoulli, b.Probability)
}

// Threshold scales the probability onto [0, scale] for dialects that only have an
// integer random function.
func (b Bernoulli) Threshold(scale int64) int64 {
	return int64(b.Probability * float64(scale))
}

// RowCount selects a fixed number of rows in random order.
type RowCount struct {
	Rows int64
}

func (r RowCount) Name() string { return MethodRowCount }

func (r RowCount) String() string {
	return fmt.Sprintf("%s(rows=%d)", MethodRowCount, r.Rows)
}

// FromConfig builds a Method from its configured name and parameters.
func FromConfig(name string, probability float64, rows int64) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case MethodBernoulli:
		if probability <= 0 || probability > 1 {
			return nil, fmt.Errorf("bernoulli probability must be in (0, 1], got %g", probability)
		}
		return Bernoulli{Probability: probability}, nil
	case MethodRowCount:
		if rows <= 0 {
			return nil, fmt.Errorf("row_count rows must be positive, got %d", rows)
		}
		return RowCount{Rows: rows}, nil
	default:
		return nil, fmt.Errorf("unknown sample method %q (valid: %s)", name, strings.Join(ValidMethods, ", "))
	}
}

// Supports reports whether method is among the names an adapter supports.
func Supports(supported []string, method Method) bool {
	for _, s := range supported {
		if s == method.Name() {
			return true
		}
	}
	return false
}
