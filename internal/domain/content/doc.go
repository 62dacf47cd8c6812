// Package content defines the document kinds of the lesson-authoring store, their
// field names and the paths they live at.
//
// Stored documents are untyped JSON. Decode* validates a snapshot against the kind's
// schema; a snapshot that fails is treated by triggers as a missing-field no-op.
package content
