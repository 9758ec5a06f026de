package workflow

import "time"

// SortOrder defines how results should be ordered when listing executions.
type SortOrder int

const (
	// SortByUpdatedDesc orders executions by UpdatedAt descending (most recent first).
	SortByUpdatedDesc SortOrder = iota
	// SortByUpdatedAsc orders executions by UpdatedAt ascending (oldest first).
	SortByUpdatedAsc
)

// ListOptions controls how executions are selected when querying the store.
type ListOptions struct {
	Limit      int
	Offset     int
	Statuses   []ExecutionStatus
	IntentID   string
	PlanID     string
	UpdatedGTE int64
	UpdatedLTE int64
	Order      SortOrder
}

// applyDefaults sanitizes the options and fills in default values.
func (opts *ListOptions) applyDefaults() {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	if opts.Limit > 100 {
		opts.Limit = 100
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	if opts.Statuses != nil {
		opts.Statuses = normalizeStatuses(opts.Statuses)
	}
	if opts.Order != SortByUpdatedAsc {
		opts.Order = SortByUpdatedDesc
	}
}

// ListOption mutates ListOptions.
type ListOption func(*ListOptions)

// WithLimit limits the number of executions returned.
func WithLimit(limit int) ListOption {
	return func(opts *ListOptions) {
		opts.Limit = limit
	}
}

// WithOffset skips the first n matching executions before returning results.
func WithOffset(offset int) ListOption {
	return func(opts *ListOptions) {
		opts.Offset = offset
	}
}

// WithStatuses filters executions by the provided statuses.
func WithStatuses(statuses ...ExecutionStatus) ListOption {
	return func(opts *ListOptions) {
		opts.Statuses = append(opts.Statuses[:0], statuses...)
	}
}

// WithIntentID filters executions by their originating intent.
func WithIntentID(intentID string) ListOption {
	return func(opts *ListOptions) {
		opts.IntentID = intentID
	}
}

// WithPlanID filters executions by their plan.
func WithPlanID(planID string) ListOption {
	return func(opts *ListOptions) {
		opts.PlanID = planID
	}
}

// WithUpdatedSince filters executions updated after the provided instant (inclusive).
func WithUpdatedSince(ts time.Time) ListOption {
	return func(opts *ListOptions) {
		if ts.IsZero() {
			opts.UpdatedGTE = 0
			return
		}
		opts.UpdatedGTE = ts.UnixMilli()
	}
}

// WithUpdatedUntil filters executions updated before the provided instant (inclusive).
func WithUpdatedUntil(ts time.Time) ListOption {
	return func(opts *ListOptions) {
		if ts.IsZero() {
			opts.UpdatedLTE = 0
			return
		}
		opts.UpdatedLTE = ts.UnixMilli()
	}
}

// WithSortOrder changes the returned order of executions.
func WithSortOrder(order SortOrder) ListOption {
	return func(opts *ListOptions) {
		opts.Order = order
	}
}

// buildListOptions applies option functions on top of defaults.
func buildListOptions(opts []ListOption) ListOptions {
	options := ListOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	options.applyDefaults()
	return options
}

func normalizeStatuses(input []ExecutionStatus) []ExecutionStatus {
	if len(input) == 0 {
		return nil
	}
	seen := make(map[ExecutionStatus]struct{}, len(input))
	result := make([]ExecutionStatus, 0, len(input))
	for _, status := range input {
		if !IsValidExecutionStatus(status) {
			continue
		}
		if _, ok := seen[status]; ok {
			continue
		}
		seen[status] = struct{}{}
		result = append(result, status)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
