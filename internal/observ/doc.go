// Package observ collects per-phase timings of a fuzzing run.
package observ
