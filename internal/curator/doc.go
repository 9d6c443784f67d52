// Package curator implements the operator-facing pattern-review workflow
// of spec §4.9: confidence-banded triage, human review with feedback
// recording, bulk auto-curation, forced learning consolidation, and
// curation-session tracking archived to the memory store.
package curator
