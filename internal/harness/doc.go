// Package harness runs scripted scenarios against a treesync engine and an
// in-memory server, and checks what listeners and futures observed.
//
// A scenario is a YAML file: initial server data, a list of steps (client
// writes, listens, transactions, server-side writes, connection changes)
// and assertions over the resulting trace. After each step the harness
// drains the engine's queue, so every run of a scenario produces the same
// trace.
//
// # Trace lines
//
// Assertions and golden files compare trace lines:
//
//	L1 child_added c after b 3     listener L1 saw c added after b
//	L1 value {"a":1}               listener L1 saw this value
//	L1 cancel permission_denied    listener L1 was cancelled
//	set /a ok                      the write to /a was acknowledged
//	transaction /c committed 3     the transaction at /c committed 3
//
// Completions are recorded after the step whose drain resolved them, in the
// order their steps ran.
//
// # Golden files
//
// RunWithGolden compares the full trace plus the final server data with
// testdata/golden/<name>.golden. Regenerate with:
//
//	go test ./internal/harness -update
package harness
