package store

import (
	"time"

	"github.com/shopspring/decimal"
)

// Serialization rules (§4.5): timestamps as ISO-8601 strings, decimals as
// strings, integers as numeric, enums as lowercase strings. These helpers
// are the single place that encodes/decodes that mapping so every
// repository applies it uniformly.

func timeToCol(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func colToTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func decToCol(d decimal.Decimal) string {
	return d.StringFixed(4)
}

func colToDec(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

func decPtrToCol(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := decToCol(*d)
	return &s
}

func colToDecPtr(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := colToDec(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
