package engine

import "fmt"

// NoDataError is returned by "most common" lookups over an empty table.
type NoDataError struct {
	Query string
}

func (e *NoDataError) Error() string {
	return fmt.Sprintf("%s: no data in selected range", e.Query)
}

// MalformedRowError reports a source row that does not fit the order schema.
// Line is 1-based and counts the header for CSV sources.
type MalformedRowError struct {
	Line   int
	Column string
	Value  string
	Err    error
}

func (e *MalformedRowError) Error() string {
	return fmt.Sprintf("row %d: column %s: invalid value %q: %v", e.Line, e.Column, e.Value, e.Err)
}

func (e *MalformedRowError) Unwrap() error { return e.Err }

// AggregationError names the dashboard query that failed.
type AggregationError struct {
	Query string
	Err   error
}

func (e *AggregationError) Error() string {
	return fmt.Sprintf("aggregation %s failed: %v", e.Query, e.Err)
}

func (e *AggregationError) Unwrap() error { return e.Err }
