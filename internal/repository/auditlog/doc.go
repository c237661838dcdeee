// Package auditlog persists the bounded, most-recent-first audit trail.
package auditlog
