package engine

import (
	"time"
)

// ColumnStore holds order line items in Struct-of-Arrays format.
// A store is read-only once built; Filter returns a new store that shares
// the dictionaries with its parent.
type ColumnStore struct {
	// Data Columns (Flat Arrays)
	ApprovedAt   []int64 // unix seconds, UTC
	Payments     []float64
	ReviewScores []int8 // 0 = no review

	// Dictionary Encoded IDs (0..N)
	OrderIDs    []int32
	CustomerIDs []int32
	ProductIDs  []int32
	CategoryIDs []int32
	StatusIDs   []int32
	StateIDs    []int32
	CityIDs     []int32

	// Dictionaries (ID -> String)
	OrderDict    []string
	CustomerDict []string
	ProductDict  []string
	CategoryDict []string
	StatusDict   []string
	StateDict    []string
	CityDict     []string
}

func (cs *ColumnStore) Len() int {
	if cs == nil {
		return 0
	}
	return len(cs.ApprovedAt)
}

// Bounds returns the earliest and latest approval timestamps.
func (cs *ColumnStore) Bounds() (min, max time.Time, ok bool) {
	if cs.Len() == 0 {
		return time.Time{}, time.Time{}, false
	}
	lo, hi := cs.ApprovedAt[0], cs.ApprovedAt[0]
	for _, ts := range cs.ApprovedAt[1:] {
		if ts < lo {
			lo = ts
		}
		if ts > hi {
			hi = ts
		}
	}
	return time.Unix(lo, 0).UTC(), time.Unix(hi, 0).UTC(), true
}

// Filter keeps rows approved between start and end. The end bound covers
// the whole calendar day it falls on.
func (cs *ColumnStore) Filter(start, end time.Time) *ColumnStore {
	lo := start.UTC().Unix()
	hi := dayFloor(end.UTC()).AddDate(0, 0, 1).Unix()

	out := &ColumnStore{
		OrderDict:    cs.OrderDict,
		CustomerDict: cs.CustomerDict,
		ProductDict:  cs.ProductDict,
		CategoryDict: cs.CategoryDict,
		StatusDict:   cs.StatusDict,
		StateDict:    cs.StateDict,
		CityDict:     cs.CityDict,
	}
	for i, ts := range cs.ApprovedAt {
		if ts < lo || ts >= hi {
			continue
		}
		out.ApprovedAt = append(out.ApprovedAt, ts)
		out.Payments = append(out.Payments, cs.Payments[i])
		out.ReviewScores = append(out.ReviewScores, cs.ReviewScores[i])
		out.OrderIDs = append(out.OrderIDs, cs.OrderIDs[i])
		out.CustomerIDs = append(out.CustomerIDs, cs.CustomerIDs[i])
		out.ProductIDs = append(out.ProductIDs, cs.ProductIDs[i])
		out.CategoryIDs = append(out.CategoryIDs, cs.CategoryIDs[i])
		out.StatusIDs = append(out.StatusIDs, cs.StatusIDs[i])
		out.StateIDs = append(out.StateIDs, cs.StateIDs[i])
		out.CityIDs = append(out.CityIDs, cs.CityIDs[i])
	}
	return out
}

func dayFloor(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func monthFloor(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}
