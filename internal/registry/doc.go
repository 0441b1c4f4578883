// Package registry stores the components and presets an operation can refer
// to by name.
//
// Components are keyed by hub reference. A registry directory is scanned
// recursively and every YAML or JSON document is placed by its path relative
// to the root:
//
//	trainer.yaml           → trainer
//	acme/trainer.yaml      → acme/trainer
//	acme/trainer/v1.yaml   → acme/trainer:v1
//
// An untagged key answers lookups for its `:latest` tag and the other way
// round. Presets are keyed by their `name`, or by their file name when they
// have none.
//
// Loading collects every problem it finds (unreadable files, invalid
// documents, duplicate keys, operations that are not presets) and reports
// them together, so a broken registry is fixed in one pass.
package registry
