package engine

import (
	"sort"
	"time"

	"ecomdash/internal/models"

	"github.com/shopspring/decimal"
)

// Query names, used in errors, logs and metric labels.
const (
	QueryDailyOrders        = "daily_orders"
	QueryDailySpend         = "daily_spend"
	QueryProductSales       = "product_sales"
	QueryReviewScores       = "review_scores"
	QueryReviewDistribution = "review_distribution"
	QueryCustomersByState   = "customers_by_state"
	QueryCustomersByCity    = "customers_by_city"
	QueryOrderStatus        = "order_status"
	QueryMonthlyOrders      = "monthly_orders"
	QueryMonthlySpend       = "monthly_spend"
	QueryDashboard          = "dashboard"
)

// Aggregator answers the dashboard's fixed questions against one snapshot
// of the order table. All methods are read-only; an Aggregator is safe for
// concurrent use as long as the store is not mutated.
type Aggregator struct {
	cs *ColumnStore
}

func NewAggregator(cs *ColumnStore) *Aggregator {
	if cs == nil {
		cs = &ColumnStore{}
	}
	return &Aggregator{cs: cs}
}

// --- 1. CALENDAR RESAMPLING ---

type period int

const (
	perDay period = iota
	perMonth
)

func (p period) floor(t time.Time) time.Time {
	if p == perMonth {
		return monthFloor(t)
	}
	return dayFloor(t)
}

func (p period) next(t time.Time) time.Time {
	if p == perMonth {
		return t.AddDate(0, 1, 0)
	}
	return t.AddDate(0, 0, 1)
}

// index of the bucket holding t, counted from the bucket starting at first.
func (p period) index(first, t time.Time) int {
	if p == perMonth {
		return (t.Year()-first.Year())*12 + int(t.Month()) - int(first.Month())
	}
	return int(t.Sub(first) / (24 * time.Hour))
}

type bucket struct {
	start  time.Time
	orders map[int32]struct{}
	spend  decimal.Decimal
}

// resample buckets every row by approval timestamp. Every period between the
// first and last row is present, empty ones included.
func (a *Aggregator) resample(p period) []bucket {
	lo, hi, ok := a.cs.Bounds()
	if !ok {
		return nil
	}
	first, last := p.floor(lo), p.floor(hi)

	buckets := make([]bucket, 0, p.index(first, last)+1)
	for t := first; !t.After(last); t = p.next(t) {
		buckets = append(buckets, bucket{start: t, orders: make(map[int32]struct{})})
	}

	for i, ts := range a.cs.ApprovedAt {
		b := &buckets[p.index(first, p.floor(time.Unix(ts, 0).UTC()))]
		b.orders[a.cs.OrderIDs[i]] = struct{}{}
		b.spend = b.spend.Add(decimal.NewFromFloat(a.cs.Payments[i]))
	}
	return buckets
}

// monthEnd labels a month bucket with its last calendar day.
func monthEnd(start time.Time) time.Time {
	return start.AddDate(0, 1, -1)
}

func (a *Aggregator) DailyOrders() []models.DailyOrders {
	buckets := a.resample(perDay)
	out := make([]models.DailyOrders, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, models.DailyOrders{Day: b.start, OrderCount: len(b.orders), Revenue: b.spend})
	}
	return out
}

func (a *Aggregator) DailySpend() []models.DailySpend {
	buckets := a.resample(perDay)
	out := make([]models.DailySpend, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, models.DailySpend{Day: b.start, TotalSpend: b.spend})
	}
	return out
}

func (a *Aggregator) MonthlyOrders() []models.MonthlyOrders {
	buckets := a.resample(perMonth)
	out := make([]models.MonthlyOrders, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, models.MonthlyOrders{Month: monthEnd(b.start), OrderCount: len(b.orders)})
	}
	return out
}

func (a *Aggregator) MonthlySpend() []models.MonthlySpend {
	buckets := a.resample(perMonth)
	out := make([]models.MonthlySpend, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, models.MonthlySpend{Month: monthEnd(b.start), TotalSpend: b.spend})
	}
	return out
}

// TotalSpend is the plain sum of every payment in the snapshot.
func (a *Aggregator) TotalSpend() decimal.Decimal {
	total := decimal.Zero
	for _, v := range a.cs.Payments {
		total = total.Add(decimal.NewFromFloat(v))
	}
	return total
}

// --- 2. GROUP BY + RANKING ---
// Rankings are sorted by count descending; equal counts keep ascending key
// order, so the first entry is also the "most common" answer.

// ProductSalesCounts counts line items per product category. Rows without a
// category are not grouped; rows without a product id are not counted.
func (a *Aggregator) ProductSalesCounts() []models.CategoryCount {
	counts := make([]int, len(a.cs.CategoryDict))
	seen := make([]bool, len(a.cs.CategoryDict))
	for i, cid := range a.cs.CategoryIDs {
		if a.cs.CategoryDict[cid] == "" {
			continue
		}
		seen[cid] = true
		if a.cs.ProductDict[a.cs.ProductIDs[i]] != "" {
			counts[cid]++
		}
	}

	out := make([]models.CategoryCount, 0)
	for cid, ok := range seen {
		if ok {
			out = append(out, models.CategoryCount{Category: a.cs.CategoryDict[cid], ProductCount: counts[cid]})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProductCount != out[j].ProductCount {
			return out[i].ProductCount > out[j].ProductCount
		}
		return out[i].Category < out[j].Category
	})
	return out
}

// ProductSummary reports totals plus the n best and n worst selling
// categories.
func (a *Aggregator) ProductSummary(n int) models.ProductSummary {
	counts := a.ProductSalesCounts()
	sum := models.ProductSummary{Top: head(counts, n)}

	for _, c := range counts {
		sum.TotalItems += c.ProductCount
	}
	if len(counts) > 0 {
		sum.AverageItems = float64(sum.TotalItems) / float64(len(counts))
	}

	asc := make([]models.CategoryCount, len(counts))
	copy(asc, counts)
	sort.Slice(asc, func(i, j int) bool {
		if asc[i].ProductCount != asc[j].ProductCount {
			return asc[i].ProductCount < asc[j].ProductCount
		}
		return asc[i].Category < asc[j].Category
	})
	sum.Bottom = head(asc, n)
	return sum
}

func (a *Aggregator) ReviewScoreCounts() []models.ScoreCount {
	var counts [6]int
	for _, s := range a.cs.ReviewScores {
		if s >= 1 && s <= 5 {
			counts[s]++
		}
	}

	out := make([]models.ScoreCount, 0, 5)
	for score := 1; score <= 5; score++ {
		if counts[score] > 0 {
			out = append(out, models.ScoreCount{Score: score, Count: counts[score]})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Score < out[j].Score
	})
	return out
}

func (a *Aggregator) MostCommonReviewScore() (int, error) {
	counts := a.ReviewScoreCounts()
	if len(counts) == 0 {
		return 0, &NoDataError{Query: QueryReviewScores}
	}
	return counts[0].Score, nil
}

// ReviewScoreDistribution gives each score's share of the reviewed rows as a
// percentage.
func (a *Aggregator) ReviewScoreDistribution() []models.ScoreShare {
	counts := a.ReviewScoreCounts()
	total := 0
	for _, c := range counts {
		total += c.Count
	}

	out := make([]models.ScoreShare, 0, len(counts))
	for _, c := range counts {
		out = append(out, models.ScoreShare{Score: c.Score, Percent: float64(c.Count) * 100 / float64(total)})
	}
	return out
}

func (a *Aggregator) OrderStatusCounts() []models.KeyCount {
	counts := make([]int, len(a.cs.StatusDict))
	for _, sid := range a.cs.StatusIDs {
		counts[sid]++
	}
	return rank(a.cs.StatusDict, counts)
}

func (a *Aggregator) MostCommonStatus() (string, error) {
	counts := a.OrderStatusCounts()
	if len(counts) == 0 {
		return "", &NoDataError{Query: QueryOrderStatus}
	}
	return counts[0].Key, nil
}

// CustomersByState counts distinct customers per state.
func (a *Aggregator) CustomersByState() []models.KeyCount {
	return rank(a.cs.StateDict, distinctCustomers(a.cs.StateIDs, a.cs.CustomerIDs, len(a.cs.StateDict)))
}

func (a *Aggregator) TopState() (string, error) {
	counts := a.CustomersByState()
	if len(counts) == 0 {
		return "", &NoDataError{Query: QueryCustomersByState}
	}
	return counts[0].Key, nil
}

// CustomersByCity counts distinct customers per city.
func (a *Aggregator) CustomersByCity() []models.KeyCount {
	return rank(a.cs.CityDict, distinctCustomers(a.cs.CityIDs, a.cs.CustomerIDs, len(a.cs.CityDict)))
}

func (a *Aggregator) TopCities(n int) []models.KeyCount {
	return head(a.CustomersByCity(), n)
}

func distinctCustomers(groupIDs, customerIDs []int32, groups int) []int {
	sets := make([]map[int32]struct{}, groups)
	for i, gid := range groupIDs {
		if sets[gid] == nil {
			sets[gid] = make(map[int32]struct{})
		}
		sets[gid][customerIDs[i]] = struct{}{}
	}
	counts := make([]int, groups)
	for gid, set := range sets {
		counts[gid] = len(set)
	}
	return counts
}

// rank turns per-dictionary-id counts into a sorted ranking. Ids with a zero
// count did not occur in this snapshot and are left out, as is the blank key.
func rank(dict []string, counts []int) []models.KeyCount {
	out := make([]models.KeyCount, 0)
	for id, n := range counts {
		if n > 0 && dict[id] != "" {
			out = append(out, models.KeyCount{Key: dict[id], Count: n})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return out
}

func head[T any](s []T, n int) []T {
	if n < 0 || n > len(s) {
		n = len(s)
	}
	out := make([]T, n)
	copy(out, s[:n])
	return out
}

// --- 3. DASHBOARD BUNDLE ---

// Dashboard runs every query for one render pass. The first "most common"
// lookup that fails is reported as an AggregationError.
func (a *Aggregator) Dashboard() (*models.DashboardData, error) {
	data := &models.DashboardData{
		DailyOrders:        a.DailyOrders(),
		DailySpend:         a.DailySpend(),
		ProductSales:       a.ProductSalesCounts(),
		Products:           a.ProductSummary(5),
		ReviewDistribution: a.ReviewScoreDistribution(),
		MonthlyOrders:      a.MonthlyOrders(),
		MonthlySpend:       a.MonthlySpend(),
		Cities:             a.CustomersByCity(),
		TopCities:          a.TopCities(10),
		TotalSpend:         a.TotalSpend(),
		Rows:               a.cs.Len(),
	}
	if lo, hi, ok := a.cs.Bounds(); ok {
		data.Range = models.DateRange{Start: lo, End: hi}
	}

	score, err := a.MostCommonReviewScore()
	if err != nil {
		return nil, &AggregationError{Query: QueryReviewScores, Err: err}
	}
	data.Reviews = models.ReviewSummary{Counts: a.ReviewScoreCounts(), MostCommon: score}

	state, err := a.TopState()
	if err != nil {
		return nil, &AggregationError{Query: QueryCustomersByState, Err: err}
	}
	data.States = models.StateSummary{Counts: a.CustomersByState(), Top: state}

	status, err := a.MostCommonStatus()
	if err != nil {
		return nil, &AggregationError{Query: QueryOrderStatus, Err: err}
	}
	data.OrderStatus = models.StatusSummary{Counts: a.OrderStatusCounts(), MostCommon: status}

	return data, nil
}
