// Package harness provides conformance testing for pmc translation units.
//
// The harness loads units from CUE files, lowers one of them for one
// backend and checks the result against a scenario: expected error codes,
// operation classification, call sites, issued names and substrings of
// generated artifacts. A full snapshot of the output can also be compared
// against a golden file.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: increment-renderscript
//	description: "Array<Int32> increment lowers to one kernel"
//	units:
//	  - increment.cue
//	unit: Increment
//	backend: renderscript
//	options:
//	  tile_size: 64
//	  workers: 4
//	expect:
//	  errors: [UNSUPPORTED_BACKEND_TYPE]
//	assertions:
//	  - type: artifact_contains
//	    path: com/example/app/Increment.rs
//	    contains: ["e.value = e.value + 1;"]
//	  - type: artifact_count
//	    count: 3
//	  - type: execution
//	    owner: Operation2
//	    execution: parallel
//	  - type: call_site
//	    owner: Operation2
//	    lines: ["PM_wrapper.foreach2();"]
//	  - type: name_issued
//	    ident: mInputInputBind1
//
// Unit paths are relative to the scenario's base path. A scenario with an
// expect.errors list passes only if lowering fails with exactly those
// codes; its assertions are not evaluated.
package harness
