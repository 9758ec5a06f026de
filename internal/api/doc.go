// Package api exposes the REST surface of the orchestrator: intent
// submission, workflow compilation and execution, execution queries and
// cancellation, stats, chain and skill discovery, plus health and metrics
// endpoints.
package api
