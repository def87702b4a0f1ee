// Package domain defines the core business types for the nomos contract
// enforcement engine.
//
// This package contains pure domain logic with ZERO external dependencies
// outside the Go standard library. All types in this package are:
//
// - Independent of infrastructure (no HTTP, storage, or telemetry coupling)
// - Safe to share across goroutines once published (deep Clone on the way out)
// - Testable in isolation without mocks
//
// Other packages (machine, layers, guard, registry, engine) operate on these
// types and depend on this package. The dependency direction is always:
//
//	Infrastructure → Domain (CORRECT)
//	Domain → Infrastructure (FORBIDDEN)
//
// Failures are modelled as returned values: sentinel errors for matching with
// errors.Is, and structured types (ValidationError, NotFoundError) that carry
// every problem found rather than just the first.
package domain
