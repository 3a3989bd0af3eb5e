package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// maxExactInt is the largest magnitude a float64 holds as an exact integer.
const maxExactInt = 1 << 53

// Quantity is a whole unit count. Records written by older clients store it
// as a numeric string, so both forms are accepted on decode.
type Quantity int

func (q *Quantity) UnmarshalJSON(data []byte) error {
	f, err := looseNumber(data)
	if err != nil {
		return fmt.Errorf("quantity: %w", err)
	}
	if f != math.Trunc(f) {
		return fmt.Errorf("quantity: %v is not a whole number", f)
	}
	if math.Abs(f) > maxExactInt {
		return fmt.Errorf("quantity: %v is out of range", f)
	}
	*q = Quantity(int(f))
	return nil
}

func (q Quantity) Decimal() decimal.Decimal {
	return decimal.NewFromInt(int64(q))
}

// Amount is a money value. Empty, null and numeric-string forms decode.
type Amount float64

func (a *Amount) UnmarshalJSON(data []byte) error {
	f, err := looseNumber(data)
	if err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	*a = Amount(f)
	return nil
}

func (a Amount) Decimal() decimal.Decimal {
	return decimal.NewFromFloat(float64(a))
}

func looseNumber(data []byte) (float64, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return 0, nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return 0, err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, nil
		}
		return strconv.ParseFloat(s, 64)
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return 0, err
	}
	return f, nil
}
