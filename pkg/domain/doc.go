// Package domain defines the core business types shared by the transaction
// policy gate and the typed-data inspector.
//
// This package contains pure domain types with no dependencies outside the Go
// standard library. All types in this package are:
//
// - Independent of infrastructure (no HTTP, storage, or telemetry)
// - Read-only inputs or immutable decision values once constructed
// - Testable in isolation without mocks
//
// Other packages (policy, storage, preflight, api) depend on these types. The
// dependency direction is always:
//
//	Infrastructure → Domain (CORRECT)
//	Domain → Infrastructure (FORBIDDEN)
package domain
