package engine

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"ecomdash/internal/models"

	"go.uber.org/zap"
)

// Source column names, as exported by the order/payment/review merge.
const (
	ColOrderID       = "order_id"
	ColCustomerID    = "customer_id"
	ColApprovedAt    = "order_approved_at"
	ColPaymentValue  = "payment_value"
	ColProductID     = "product_id"
	ColCategory      = "product_category_name_english"
	ColStatus        = "order_status"
	ColReviewScore   = "review_score"
	ColCustomerState = "customer_state"
	ColCustomerCity  = "customer_city"

	ColGeoCustomer = "customer_unique_id"
	ColGeoLng      = "geolocation_lng"
	ColGeoLat      = "geolocation_lat"
)

var orderColumns = []string{
	ColOrderID, ColCustomerID, ColApprovedAt, ColPaymentValue, ColProductID,
	ColCategory, ColStatus, ColReviewScore, ColCustomerState, ColCustomerCity,
}

var geoColumns = []string{ColGeoCustomer, ColGeoLng, ColGeoLat}

var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

var errMissingValue = errors.New("missing value")

type LoadOptions struct {
	// SkipMalformed drops rows that fail to parse instead of aborting the
	// load. Dropped rows are counted and logged.
	SkipMalformed bool
	Logger        *zap.Logger
}

func (o LoadOptions) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// --- 1. DICTIONARY ENCODING ---

type dict struct {
	index  map[string]int32
	values []string
}

func newDict() *dict {
	return &dict{index: make(map[string]int32)}
}

func (d *dict) id(s string) int32 {
	if id, ok := d.index[s]; ok {
		return id
	}
	id := int32(len(d.values))
	d.values = append(d.values, s)
	d.index[s] = id
	return id
}

type storeBuilder struct {
	store   *ColumnStore
	skipped int

	orders, customers, products, categories *dict
	statuses, states, cities                *dict
}

func newStoreBuilder() *storeBuilder {
	return &storeBuilder{
		store:      &ColumnStore{},
		orders:     newDict(),
		customers:  newDict(),
		products:   newDict(),
		categories: newDict(),
		statuses:   newDict(),
		states:     newDict(),
		cities:     newDict(),
	}
}

func (b *storeBuilder) append(rec models.OrderRecord) {
	s := b.store
	s.ApprovedAt = append(s.ApprovedAt, rec.ApprovedAt.UTC().Unix())
	s.Payments = append(s.Payments, rec.PaymentValue)
	s.ReviewScores = append(s.ReviewScores, int8(rec.ReviewScore))
	s.OrderIDs = append(s.OrderIDs, b.orders.id(rec.OrderID))
	s.CustomerIDs = append(s.CustomerIDs, b.customers.id(rec.CustomerID))
	s.ProductIDs = append(s.ProductIDs, b.products.id(rec.ProductID))
	s.CategoryIDs = append(s.CategoryIDs, b.categories.id(rec.Category))
	s.StatusIDs = append(s.StatusIDs, b.statuses.id(rec.Status))
	s.StateIDs = append(s.StateIDs, b.states.id(rec.CustomerState))
	s.CityIDs = append(s.CityIDs, b.cities.id(rec.CustomerCity))
}

// reject aborts the load with err unless malformed rows are being skipped.
func (b *storeBuilder) reject(err error, opts LoadOptions) error {
	if !opts.SkipMalformed {
		return err
	}
	b.skipped++
	if b.skipped <= 5 {
		opts.logger().Warn("skipping malformed order row", zap.Error(err))
	}
	return nil
}

func (b *storeBuilder) finish() *ColumnStore {
	s := b.store
	s.OrderDict = b.orders.values
	s.CustomerDict = b.customers.values
	s.ProductDict = b.products.values
	s.CategoryDict = b.categories.values
	s.StatusDict = b.statuses.values
	s.StateDict = b.states.values
	s.CityDict = b.cities.values
	return s
}

// FromRecords builds a store from already parsed records.
func FromRecords(recs []models.OrderRecord) *ColumnStore {
	b := newStoreBuilder()
	for _, rec := range recs {
		b.append(rec)
	}
	return b.finish()
}

// --- 2. FIELD PARSERS ---

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errMissingValue
	}
	var lastErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// parseReviewScore accepts "", "4" and "4.0". Empty means no review.
func parseReviewScore(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || f < 1 || f > 5 {
		return 0, fmt.Errorf("review score out of range 1-5")
	}
	return int(f), nil
}

// parseOrder maps one source row onto an OrderRecord. get returns the raw
// value of a named column.
func parseOrder(line int, get func(col string) string) (models.OrderRecord, error) {
	bad := func(col string, err error) error {
		return &MalformedRowError{Line: line, Column: col, Value: get(col), Err: err}
	}

	rec := models.OrderRecord{
		OrderID:       strings.TrimSpace(get(ColOrderID)),
		CustomerID:    strings.TrimSpace(get(ColCustomerID)),
		ProductID:     strings.TrimSpace(get(ColProductID)),
		Category:      strings.TrimSpace(get(ColCategory)),
		Status:        strings.TrimSpace(get(ColStatus)),
		CustomerState: strings.TrimSpace(get(ColCustomerState)),
		CustomerCity:  strings.TrimSpace(get(ColCustomerCity)),
	}
	if rec.OrderID == "" {
		return rec, bad(ColOrderID, errMissingValue)
	}
	if rec.CustomerID == "" {
		return rec, bad(ColCustomerID, errMissingValue)
	}

	ts, err := parseTimestamp(get(ColApprovedAt))
	if err != nil {
		return rec, bad(ColApprovedAt, err)
	}
	rec.ApprovedAt = ts

	raw := strings.TrimSpace(get(ColPaymentValue))
	if raw == "" {
		return rec, bad(ColPaymentValue, errMissingValue)
	}
	pay, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return rec, bad(ColPaymentValue, err)
	}
	if math.IsNaN(pay) || math.IsInf(pay, 0) {
		return rec, bad(ColPaymentValue, fmt.Errorf("not a finite number"))
	}
	rec.PaymentValue = pay

	score, err := parseReviewScore(get(ColReviewScore))
	if err != nil {
		return rec, bad(ColReviewScore, err)
	}
	rec.ReviewScore = score

	return rec, nil
}

// --- 3. CSV LOADERS ---

// header maps cleaned column names to their position and checks that all
// required columns are present.
func header(row []string, required []string) (map[string]int, error) {
	idx := make(map[string]int, len(row))
	for i, h := range row {
		h = strings.TrimPrefix(h, "\ufeff")
		h = strings.ReplaceAll(strings.TrimSpace(h), `"`, "")
		if _, dup := idx[h]; !dup {
			idx[h] = i
		}
	}
	for _, col := range required {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("missing required column %q", col)
		}
	}
	return idx, nil
}

func getter(idx map[string]int, row []string) func(string) string {
	return func(col string) string {
		i, ok := idx[col]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}
}

// LoadCSV reads an order table from a CSV file.
func LoadCSV(path string, opts LoadOptions) (*ColumnStore, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open orders csv: %w", err)
	}
	defer f.Close()
	return ReadCSV(f, opts)
}

func ReadCSV(r io.Reader, opts LoadOptions) (*ColumnStore, error) {
	start := time.Now()
	log := opts.logger()

	cr := csv.NewReader(r)
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	head, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	idx, err := header(head, orderColumns)
	if err != nil {
		return nil, err
	}
	cr.FieldsPerRecord = len(head)

	b := newStoreBuilder()
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) && errors.Is(perr.Err, csv.ErrFieldCount) {
			if err := b.reject(&MalformedRowError{Line: perr.Line, Column: "*", Err: perr.Err}, opts); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		line, _ := cr.FieldPos(0)

		rec, err := parseOrder(line, getter(idx, row))
		if err != nil {
			if err := b.reject(err, opts); err != nil {
				return nil, err
			}
			continue
		}
		b.append(rec)
	}

	store := b.finish()
	if b.skipped > 0 {
		log.Warn("malformed order rows skipped", zap.Int("skipped", b.skipped))
	}
	log.Info("orders loaded",
		zap.String("source", "csv"),
		zap.Int("rows", store.Len()),
		zap.Duration("took", time.Since(start)),
	)
	return store, nil
}

// LoadGeoCSV reads customer geolocation points, keeping the first point seen
// for every customer unique id.
func LoadGeoCSV(path string, opts LoadOptions) ([]models.GeoPoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geolocation csv: %w", err)
	}
	defer f.Close()
	return ReadGeoCSV(f, opts)
}

// ReadGeoCSV never fails on a single row: rows with a blank id or an
// unparsable coordinate are skipped and logged.
func ReadGeoCSV(r io.Reader, opts LoadOptions) ([]models.GeoPoint, error) {
	log := opts.logger()

	cr := csv.NewReader(r)
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	head, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read geolocation header: %w", err)
	}
	idx, err := header(head, geoColumns)
	if err != nil {
		return nil, err
	}
	cr.FieldsPerRecord = len(head)

	skipped := 0
	skip := func(err error) {
		skipped++
		if skipped <= 5 {
			log.Warn("skipping malformed geolocation row", zap.Error(err))
		}
	}

	seen := make(map[string]struct{})
	points := make([]models.GeoPoint, 0)
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) && errors.Is(perr.Err, csv.ErrFieldCount) {
			skip(&MalformedRowError{Line: perr.Line, Column: "*", Err: perr.Err})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read geolocation csv: %w", err)
		}
		line, _ := cr.FieldPos(0)
		get := getter(idx, row)

		id := strings.TrimSpace(get(ColGeoCustomer))
		if id == "" {
			skip(&MalformedRowError{Line: line, Column: ColGeoCustomer, Err: errMissingValue})
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		lng, err := parseCoordinate(get(ColGeoLng), 180)
		if err != nil {
			skip(&MalformedRowError{Line: line, Column: ColGeoLng, Value: get(ColGeoLng), Err: err})
			continue
		}
		lat, err := parseCoordinate(get(ColGeoLat), 90)
		if err != nil {
			skip(&MalformedRowError{Line: line, Column: ColGeoLat, Value: get(ColGeoLat), Err: err})
			continue
		}
		seen[id] = struct{}{}
		points = append(points, models.GeoPoint{CustomerUniqueID: id, Lng: lng, Lat: lat})
	}

	if skipped > 0 {
		log.Warn("malformed geolocation rows skipped", zap.Int("skipped", skipped))
	}
	log.Info("geolocation loaded", zap.Int("points", len(points)))
	return points, nil
}

func parseCoordinate(s string, limit float64) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || v < -limit || v > limit {
		return 0, fmt.Errorf("coordinate out of range ±%v", limit)
	}
	return v, nil
}
