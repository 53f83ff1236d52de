// Package costs amortizes subscription costs across months and reads and
// writes the tab separated cost files used for bulk import and backups.
package costs

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

type YearMonth struct {
	Year  int `validate:"min=1000,max=9999"`
	Month int `validate:"min=1,max=12"`
}

// ParseYearMonth accepts YYYY-MM.
func ParseYearMonth(s string) (YearMonth, error) {
	t, err := time.Parse("2006-01", strings.TrimSpace(s))
	if err != nil {
		return YearMonth{}, fmt.Errorf("costs: invalid month %q, want YYYY-MM", s)
	}
	return YearMonth{Year: t.Year(), Month: int(t.Month())}, nil
}

func (ym YearMonth) index() int { return ym.Year*12 + ym.Month - 1 }

func (ym YearMonth) After(other YearMonth) bool { return ym.index() > other.index() }

func (ym YearMonth) AddMonths(n int) YearMonth {
	idx := ym.index() + n
	return YearMonth{Year: idx / 12, Month: idx%12 + 1}
}

func (ym YearMonth) String() string { return fmt.Sprintf("%04d-%02d", ym.Year, ym.Month) }

// Months counts the months of an inclusive range.
func Months(begin, end YearMonth) int {
	return (end.Year-begin.Year)*12 + (end.Month - begin.Month) + 1
}

// Entry is a cost as entered by a user for a range of months.
type Entry struct {
	Entity                     string `validate:"required"`
	Vendor                     string `validate:"required"`
	Begin                      YearMonth
	End                        YearMonth
	CostInOriginalCurrency     decimal.Decimal `validate:"gte=0"`
	OriginalCurrency           string          `validate:"required"`
	CostInLocalCurrency        decimal.Decimal `validate:"gte=0"`
	CostInLocalCurrencyWithTax decimal.Decimal `validate:"gte=0"`
}

// Record is one month of cost for one entity from one vendor.
type Record struct {
	Entity                     string          `validate:"required"`
	Vendor                     string          `validate:"required"`
	Year                       int             `validate:"min=1000,max=9999"`
	Month                      int             `validate:"min=1,max=12"`
	CostInOriginalCurrency     decimal.Decimal `validate:"gte=0"`
	OriginalCurrency           string          `validate:"required"`
	CostInLocalCurrency        decimal.Decimal `validate:"gte=0"`
	CostInLocalCurrencyWithTax decimal.Decimal `validate:"gte=0"`
}

// ValidationError is a user-facing rejection raised before any SQL runs.
type ValidationError struct {
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Err == nil {
		return "costs: " + e.Message
	}
	return "costs: " + e.Message + ": " + e.Err.Error()
}

func (e *ValidationError) Unwrap() error { return e.Err }

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.InexactFloat64()
		}
		return nil
	}, decimal.Decimal{})
	return v
}

func validateStruct(s any) error {
	if err := validate.Struct(s); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			names := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				names = append(names, fe.Field()+" ("+fe.Tag()+")")
			}
			return &ValidationError{Message: "invalid " + strings.Join(names, ", "), Err: err}
		}
		return &ValidationError{Message: "invalid input", Err: err}
	}
	return nil
}

// ValidateRange rejects ranges whose begin lies after their end.
func ValidateRange(begin, end YearMonth) error {
	if err := validateStruct(struct {
		Begin YearMonth
		End   YearMonth
	}{begin, end}); err != nil {
		return err
	}
	if begin.After(end) {
		return &ValidationError{Message: fmt.Sprintf("begin %s is after end %s", begin, end)}
	}
	return nil
}

// Amortize spreads each amount of the entry evenly over every month of its
// range, rounded to cents.
func Amortize(entry Entry) ([]Record, error) {
	entry.Entity = strings.TrimSpace(entry.Entity)
	entry.Vendor = strings.TrimSpace(entry.Vendor)
	entry.OriginalCurrency = strings.TrimSpace(entry.OriginalCurrency)
	if err := validateStruct(entry); err != nil {
		return nil, err
	}
	if err := ValidateRange(entry.Begin, entry.End); err != nil {
		return nil, err
	}

	n := Months(entry.Begin, entry.End)
	divisor := decimal.NewFromInt(int64(n))
	original := entry.CostInOriginalCurrency.DivRound(divisor, 2)
	local := entry.CostInLocalCurrency.DivRound(divisor, 2)
	withTax := entry.CostInLocalCurrencyWithTax.DivRound(divisor, 2)

	records := make([]Record, 0, n)
	for i := 0; i < n; i++ {
		ym := entry.Begin.AddMonths(i)
		records = append(records, Record{
			Entity:                     entry.Entity,
			Vendor:                     entry.Vendor,
			Year:                       ym.Year,
			Month:                      ym.Month,
			CostInOriginalCurrency:     original,
			OriginalCurrency:           entry.OriginalCurrency,
			CostInLocalCurrency:        local,
			CostInLocalCurrencyWithTax: withTax,
		})
	}
	return records, nil
}

// Validate checks a single record, used for bulk file imports.
func (r Record) Validate() error {
	return validateStruct(r)
}

func (r Record) YearMonth() YearMonth { return YearMonth{Year: r.Year, Month: r.Month} }

func parseInt(field, v string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not a number", field, v)
	}
	return n, nil
}

func parseAmount(field, v string) (decimal.Decimal, error) {
	v = strings.ReplaceAll(strings.TrimSpace(v), ",", "")
	if v == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %q is not an amount", field, v)
	}
	return d, nil
}
