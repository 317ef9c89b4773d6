// Package validation holds constructor guards for mandatory dependencies.
package validation

import "fmt"

// AssertNotNil panics if ptr is nil. Use it in constructors, never on request paths:
//
//	validation.AssertNotNil(pool, "database pool")
func AssertNotNil[T any](ptr *T, name string) {
	if ptr == nil {
		panic(fmt.Sprintf("critical error: %s cannot be nil", name))
	}
}

// AssertPresent panics if an interface dependency is nil.
func AssertPresent(v any, name string) {
	if v == nil {
		panic(fmt.Sprintf("critical error: %s cannot be nil", name))
	}
}
