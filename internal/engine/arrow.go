package engine

import (
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// OrderSchema is the Arrow layout of an exported order table. Dictionary
// columns are expanded back to plain strings.
var OrderSchema = arrow.NewSchema([]arrow.Field{
	{Name: ColOrderID, Type: arrow.BinaryTypes.String},
	{Name: ColCustomerID, Type: arrow.BinaryTypes.String},
	{Name: ColApprovedAt, Type: arrow.FixedWidthTypes.Timestamp_s},
	{Name: ColPaymentValue, Type: arrow.PrimitiveTypes.Float64},
	{Name: ColProductID, Type: arrow.BinaryTypes.String},
	{Name: ColCategory, Type: arrow.BinaryTypes.String},
	{Name: ColStatus, Type: arrow.BinaryTypes.String},
	{Name: ColReviewScore, Type: arrow.PrimitiveTypes.Int8, Nullable: true},
	{Name: ColCustomerState, Type: arrow.BinaryTypes.String},
	{Name: ColCustomerCity, Type: arrow.BinaryTypes.String},
}, nil)

// Record copies the store into a single Arrow record. The caller owns the
// record and must Release it.
func (cs *ColumnStore) Record(mem memory.Allocator) arrow.Record {
	b := array.NewRecordBuilder(mem, OrderSchema)
	defer b.Release()

	n := cs.Len()
	b.Reserve(n)

	strCol := func(field int, ids []int32, dict []string) {
		sb := b.Field(field).(*array.StringBuilder)
		for _, id := range ids {
			sb.Append(dict[id])
		}
	}
	strCol(0, cs.OrderIDs, cs.OrderDict)
	strCol(1, cs.CustomerIDs, cs.CustomerDict)

	ts := b.Field(2).(*array.TimestampBuilder)
	for _, v := range cs.ApprovedAt {
		ts.Append(arrow.Timestamp(v))
	}
	b.Field(3).(*array.Float64Builder).AppendValues(cs.Payments, nil)

	strCol(4, cs.ProductIDs, cs.ProductDict)
	strCol(5, cs.CategoryIDs, cs.CategoryDict)
	strCol(6, cs.StatusIDs, cs.StatusDict)

	scores := b.Field(7).(*array.Int8Builder)
	for _, s := range cs.ReviewScores {
		if s == 0 {
			scores.AppendNull()
			continue
		}
		scores.Append(s)
	}

	strCol(8, cs.StateIDs, cs.StateDict)
	strCol(9, cs.CityIDs, cs.CityDict)

	return b.NewRecord()
}

// WriteIPC streams the store to w in the Arrow IPC stream format.
func (cs *ColumnStore) WriteIPC(w io.Writer) error {
	mem := memory.NewGoAllocator()
	rec := cs.Record(mem)
	defer rec.Release()

	wr := ipc.NewWriter(w, ipc.WithSchema(OrderSchema), ipc.WithAllocator(mem))
	if err := wr.Write(rec); err != nil {
		wr.Close()
		return fmt.Errorf("write arrow record: %w", err)
	}
	if err := wr.Close(); err != nil {
		return fmt.Errorf("close arrow stream: %w", err)
	}
	return nil
}
