// Package tables provides entity sets for the core registry: the built-in
// credit management schema and schemas loaded from YAML documents.
package tables
