// Package triage implements the mail classification engine: the budget
// gate, the per-email decision pipeline, the classification state
// machine, the learning feedback loop, and the snooze scheduler.
package triage
