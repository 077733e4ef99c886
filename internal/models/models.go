package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderRecord is one line item of an order as it arrives from a source.
type OrderRecord struct {
	OrderID       string    `json:"order_id"`
	CustomerID    string    `json:"customer_id"`
	ApprovedAt    time.Time `json:"order_approved_at"`
	PaymentValue  float64   `json:"payment_value"`
	ProductID     string    `json:"product_id"`
	Category      string    `json:"product_category_name_english"`
	Status        string    `json:"order_status"`
	ReviewScore   int       `json:"review_score,omitempty"` // 0 = no review
	CustomerState string    `json:"customer_state"`
	CustomerCity  string    `json:"customer_city"`
}

type GeoPoint struct {
	CustomerUniqueID string  `json:"customer_unique_id"`
	Lng              float64 `json:"geolocation_lng"`
	Lat              float64 `json:"geolocation_lat"`
}

type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type DailyOrders struct {
	Day        time.Time       `json:"order_approved_at"`
	OrderCount int             `json:"order_count"`
	Revenue    decimal.Decimal `json:"revenue"`
}

type DailySpend struct {
	Day        time.Time       `json:"order_approved_at"`
	TotalSpend decimal.Decimal `json:"total_spend"`
}

// MonthlyOrders is keyed by the last day of the month.
type MonthlyOrders struct {
	Month      time.Time `json:"order_approved_at"`
	OrderCount int       `json:"order_count"`
}

type MonthlySpend struct {
	Month      time.Time       `json:"order_approved_at"`
	TotalSpend decimal.Decimal `json:"total_spend"`
}

type CategoryCount struct {
	Category     string `json:"product_category_name_english"`
	ProductCount int    `json:"product_count"`
}

type ScoreCount struct {
	Score int `json:"review_score"`
	Count int `json:"count"`
}

type ScoreShare struct {
	Score   int     `json:"review_score"`
	Percent float64 `json:"percent"`
}

// KeyCount is a generic ranking row (status, state, city).
type KeyCount struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

type ProductSummary struct {
	TotalItems   int             `json:"total_items"`
	AverageItems float64         `json:"average_items"`
	Top          []CategoryCount `json:"top"`
	Bottom       []CategoryCount `json:"bottom"`
}

type ReviewSummary struct {
	Counts     []ScoreCount `json:"counts"`
	MostCommon int          `json:"most_common"`
}

type StatusSummary struct {
	Counts     []KeyCount `json:"counts"`
	MostCommon string     `json:"most_common"`
}

type StateSummary struct {
	Counts []KeyCount `json:"counts"`
	Top    string     `json:"top"`
}

// DashboardData is everything one render pass of the dashboard needs.
type DashboardData struct {
	Range              DateRange       `json:"range"`
	DailyOrders        []DailyOrders   `json:"daily_orders"`
	DailySpend         []DailySpend    `json:"daily_spend"`
	ProductSales       []CategoryCount `json:"product_sales"`
	Products           ProductSummary  `json:"products"`
	Reviews            ReviewSummary   `json:"reviews"`
	ReviewDistribution []ScoreShare    `json:"review_distribution"`
	States             StateSummary    `json:"states"`
	OrderStatus        StatusSummary   `json:"order_status"`
	MonthlyOrders      []MonthlyOrders `json:"monthly_orders"`
	MonthlySpend       []MonthlySpend  `json:"monthly_spend"`
	Cities             []KeyCount      `json:"cities"`
	TopCities          []KeyCount      `json:"top_cities"`
	TotalSpend         decimal.Decimal `json:"total_spend"`
	Rows               int             `json:"rows"`
}
