// Package trace records spans around fuzzing cycles and tool invocations.
//
// Tracing is off by default. Enable it with:
//
//	difffuzz --trace=- --trace-level=cycle
//
// # Storage
//
//   - stream: every event is written immediately (text or NDJSON)
//   - ring: the last N events are kept in memory and dumped when the run
//     aborts on a fatal fault
//
// # Levels
//
//   - off: nothing
//   - error: ring only, dumped on fatal faults
//   - cycle: driver events and one span per lane cycle
//   - tool: additionally one span per generator/target/shrink invocation
//
// # Context propagation
//
//	ctx = trace.WithTracer(ctx, tracer)
//	span := trace.Begin(trace.FromContext(ctx), trace.ScopeLane, "cycle", 0)
//	defer span.End("")
package trace
