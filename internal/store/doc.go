// Package store provides the SQLite-backed build cache.
//
// A build is one backend's output for one translation unit, keyed by
// ir.BuildHash over the unit hash, the backend, the compiler version and
// the code generation settings. A cached build holds every artifact and
// the host call sites, so a hit skips lowering entirely.
//
// # Ordering
//
// Builds carry a seq INTEGER assigned at write time. Listings are ordered
// by seq, then id, never by wall time, so two listings of the same cache
// are identical.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Artifacts are deleted with their build
package store
