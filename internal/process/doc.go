// Package process provides single-subprocess lifecycle management.
//
// Worker owns exactly one external engine process:
//   - Start spawns the process; launch failures surface as *SpawnError
//   - ObserveExit blocks until termination and reports code plus stderr tail
//   - Stop sends SIGINT, then SIGKILL after a graceful timeout
//   - Output streaming with pluggable log parsing
//
// A Worker is single-use: one Start, one ObserveExit, at most one Stop.
// Restart policy lives in the supervisor, which creates a fresh Worker
// per attempt.
package process
