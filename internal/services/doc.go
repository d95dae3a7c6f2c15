// Package services defines shared utilities consumed by the preprocess and
// finalize stage handlers and external tool integrations.
//
// Key responsibilities:
//   - Context helpers that stamp a media item's source path, pipeline stage
//     name, and correlation identifier for logging and tracing.
//   - Structured error markers plus the Wrap helper that classify failures
//     (external tool, validation, configuration, not-found, timeout,
//     transient) consistently across every processor.
//
// Use these helpers when wiring new processor logic so operational behaviour
// (error handling, observability) stays uniform across the pipeline.
package services
