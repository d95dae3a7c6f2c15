// Package logging assembles structured slog loggers and formatting helpers used
// across Memoria's processors.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so pipeline code can automatically
// tag log lines with the source path currently being handled, the active
// pipeline stage, and correlation IDs. The package also provides a no-op
// logger for tests and wiring code that cannot fail.
//
// # Logging Contract
//
// Level semantics:
//   - INFO: narrative milestones plus decisions that change a processor's
//     output (matcher resolution, encoder selection, dedupe outcome).
//   - WARN: degraded behavior or user action needed (orphaned files, fallbacks).
//   - ERROR: operation failed; will stop or retry.
//   - DEBUG: raw diagnostics, per-candidate scoring, and decisions that do not
//     affect the final library contents.
//
// # Required Fields by Level
//
// INFO logs must include:
//   - event_type: lifecycle event (e.g., "stage_start", "stage_complete", "status")
//
// WARN logs must include all three fields (the "WARN triad"):
//   - event_type: what happened (e.g., "metadata_match_failed")
//   - error_hint: actionable next step (e.g., "check export archive completeness")
//   - impact: user-facing consequence (e.g., "file recorded as orphaned media")
//
// Use WarnWithContext() helper to enforce the WARN triad automatically.
//
// ERROR logs must include:
//   - event_type: what failed
//   - error_hint: actionable next step
//   - error (via logging.Error()): the underlying error
//
// Use ErrorWithContext() helper to enforce error fields automatically.
//
// # Decision Logging
//
// Decision logs record choices that affect output. Required fields:
//   - decision_type: category (e.g., "encoder_detection", "dedupe", "matcher_resolution")
//   - decision_result: outcome (e.g., "accepted", "rejected", "applied", "fallback")
//   - decision_reason: why (e.g., "exact_match", "hash_collision")
//   - decision_options: alternatives considered (e.g., "accept, reject")
//
// # Common Fields
//
// Decision: decision_type, decision_result, decision_reason, decision_options
// Events: event_type (stage_start, stage_complete, stage_failure)
// Errors: error_kind, error_operation, error_detail_path, error_code, error_hint, impact
//
// Prefer these constructors over hand-rolled slog setup to ensure new
// components emit data with the same shape and routing guarantees as the rest
// of the system.
package logging
