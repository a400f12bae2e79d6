// Package ir provides the intermediate representation consumed by the pmc
// lowering pipeline.
//
// IR records (InputBind, Operation, OutputBind, MethodCall) are produced once
// per translation unit by the front end and are read-only from then on. The
// lowering packages copy them; they never mutate them.
//
// Key design constraints:
//   - ir imports nothing internal; every other package may import ir
//   - Sequence numbers are input data, unique within a unit
//   - Canonical JSON (RFC 8785) is the only serialization used for hashing
//   - All JSON tags use snake_case
package ir
