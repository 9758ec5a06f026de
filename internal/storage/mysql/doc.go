// Package mysql archives terminal workflow executions for audit queries. The
// in-memory execution registry stays the source of truth for live runs; this
// package only persists frozen records, applying the schema migrations
// embedded in deploy/migrations on startup. A file-backed archive with the
// same contract covers deployments without a database.
package mysql
