package replay

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/qtexchange/vexchange/internal/coredomain"
	"github.com/qtexchange/vexchange/internal/coreengine"
)

// CSVSource reads historical order rows from a CSV reader, one row per
// DataPoint, in file order (the file itself must already be sorted by
// timestamp — CSVSource does not sort). This is the data-source adapter
// spec.md §1 names as an out-of-core collaborator, given a concrete shape:
// encoding/csv rather than a third-party parser, since the row format here
// is a handful of fixed columns and nothing in the example corpus reaches
// for an external CSV library.
//
// Expected columns: timestamp_ms,symbol,user_id,side,type,time_in_force,price,quantity
type CSVSource struct {
	r       *csv.Reader
	closer  io.Closer
	lineNum int
}

// NewCSVSource wraps r (optionally also an io.Closer, e.g. an *os.File),
// skipping a single header row.
func NewCSVSource(r io.Reader) (*CSVSource, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 8
	if _, err := cr.Read(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("replay: reading csv header: %w", err)
	}
	closer, _ := r.(io.Closer)
	return &CSVSource{r: cr, closer: closer}, nil
}

// Next parses and returns the next row as a DataPoint whose Payload is a
// coreengine.SubmitRequest.
func (s *CSVSource) Next(ctx context.Context) (DataPoint, bool, error) {
	record, err := s.r.Read()
	if err == io.EOF {
		if s.closer != nil {
			_ = s.closer.Close()
		}
		return DataPoint{}, false, nil
	}
	if err != nil {
		return DataPoint{}, false, fmt.Errorf("replay: csv row %d: %w", s.lineNum, err)
	}
	s.lineNum++

	tsMs, err := strconv.ParseInt(record[0], 10, 64)
	if err != nil {
		return DataPoint{}, false, fmt.Errorf("replay: csv row %d: bad timestamp: %w", s.lineNum, err)
	}
	userID, err := uuid.Parse(record[2])
	if err != nil {
		return DataPoint{}, false, fmt.Errorf("replay: csv row %d: bad user_id: %w", s.lineNum, err)
	}
	price, err := decimal.NewFromString(record[6])
	if err != nil {
		return DataPoint{}, false, fmt.Errorf("replay: csv row %d: bad price: %w", s.lineNum, err)
	}
	quantity, err := decimal.NewFromString(record[7])
	if err != nil {
		return DataPoint{}, false, fmt.Errorf("replay: csv row %d: bad quantity: %w", s.lineNum, err)
	}

	req := coreengine.SubmitRequest{
		Symbol:      record[1],
		UserID:      userID,
		Side:        coredomain.Side(record[3]),
		Type:        coredomain.OrderType(record[4]),
		TimeInForce: coredomain.TimeInForce(record[5]),
		Price:       price,
		Quantity:    quantity,
	}
	return DataPoint{TimestampMs: tsMs, Payload: req}, true, nil
}
