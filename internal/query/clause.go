package query

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	sq "github.com/Masterminds/squirrel"
	"github.com/janekbaraniewski/counterstats/internal/schema"
)

type Comparator string

const (
	Equal          Comparator = "="
	NotEqual       Comparator = "<>"
	Less           Comparator = "<"
	LessOrEqual    Comparator = "<="
	Greater        Comparator = ">"
	GreaterOrEqual Comparator = ">="
	Like           Comparator = "LIKE"
	NotLike        Comparator = "NOT LIKE"
	IsNull         Comparator = "IS NULL"
	IsNotNull      Comparator = "IS NOT NULL"
)

var comparators = []Comparator{
	Equal, NotEqual, Less, LessOrEqual, Greater, GreaterOrEqual,
	Like, NotLike, IsNull, IsNotNull,
}

// ParseComparator accepts a comparator in any case with arbitrary inner
// whitespace, e.g. "not  like". "!=" is read as "<>".
func ParseComparator(s string) (Comparator, error) {
	norm := strings.ToUpper(strings.Join(strings.Fields(s), " "))
	if norm == "!=" {
		return NotEqual, nil
	}
	for _, c := range comparators {
		if string(c) == norm {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidComparator, s)
}

func (c Comparator) unary() bool {
	return c == IsNull || c == IsNotNull
}

// Clause is a single "field comparator value" predicate. Value is ignored
// by the IS NULL comparators.
type Clause struct {
	Field      string
	Comparator Comparator
	Value      any
}

func (c Clause) sql() (sq.Sqlizer, error) {
	cmp, err := ParseComparator(string(c.Comparator))
	if err != nil {
		return nil, err
	}
	column := schema.Quote(c.Field)
	if cmp.unary() {
		return sq.Expr(column + " " + string(cmp)), nil
	}
	return sq.Expr(column+" "+string(cmp)+" ?", c.Value), nil
}

// ParseClause reads a textual predicate such as `vendor = EBSCO` or
// `title not like 'Journal of %'`. Unquoted numbers bind as numbers so they
// compare numerically against aggregated columns; quoting keeps a value text.
func ParseClause(s string) (Clause, error) {
	s = strings.TrimSpace(s)
	end := strings.IndexFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	if end <= 0 {
		return Clause{}, fmt.Errorf("%w: %q", ErrInvalidClause, s)
	}
	field, rest := s[:end], strings.TrimSpace(s[end:])

	for _, c := range []Comparator{IsNotNull, IsNull, NotLike, Like} {
		n, ok := wordPrefix(rest, string(c))
		if !ok {
			continue
		}
		value := strings.TrimSpace(rest[n:])
		if c.unary() {
			if value != "" {
				return Clause{}, fmt.Errorf("%w: %q takes no value", ErrInvalidClause, s)
			}
			return Clause{Field: field, Comparator: c}, nil
		}
		return clauseWithValue(s, field, c, value)
	}
	for _, sym := range []string{"<=", ">=", "<>", "!=", "=", "<", ">"} {
		if strings.HasPrefix(rest, sym) {
			cmp, err := ParseComparator(sym)
			if err != nil {
				return Clause{}, err
			}
			return clauseWithValue(s, field, cmp, strings.TrimSpace(rest[len(sym):]))
		}
	}
	return Clause{}, fmt.Errorf("%w: %q has no comparator", ErrInvalidClause, s)
}

// ParseGroup reads alternatives joined by OR, in any case, into one clause
// group. An OR inside a quoted value does not separate alternatives.
func ParseGroup(s string) ([]Clause, error) {
	var group []Clause
	for _, part := range splitAlternatives(s) {
		c, err := ParseClause(part)
		if err != nil {
			return nil, err
		}
		group = append(group, c)
	}
	return group, nil
}

func splitAlternatives(s string) []string {
	var (
		parts []string
		quote byte
		start int
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case (c == '\'' || c == '"') && (i == 0 || !isWordByte(s[i-1])):
			quote = c
		case c == ' ' || c == '\t':
			if n, ok := wordPrefix(s[i:], "OR"); ok {
				parts = append(parts, s[start:i])
				start = i + n
				i = start - 1
			}
		}
	}
	return append(parts, s[start:])
}

func isWordByte(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func clauseWithValue(s, field string, cmp Comparator, raw string) (Clause, error) {
	if raw == "" {
		return Clause{}, fmt.Errorf("%w: %q has no value", ErrInvalidClause, s)
	}
	if len(raw) >= 2 && (raw[0] == '\'' || raw[0] == '"') && raw[len(raw)-1] == raw[0] {
		return Clause{Field: field, Comparator: cmp, Value: raw[1 : len(raw)-1]}, nil
	}
	return Clause{Field: field, Comparator: cmp, Value: literal(raw)}, nil
}

func literal(raw string) any {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	numeric := strings.IndexFunc(strings.TrimPrefix(raw, "-"), func(r rune) bool {
		return !unicode.IsDigit(r) && r != '.'
	}) < 0
	if numeric {
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
	}
	return raw
}

// wordPrefix matches the words of want at the start of s, ignoring case and
// the amount of whitespace between them, and returns the bytes consumed.
func wordPrefix(s, want string) (int, bool) {
	pos := 0
	for _, w := range strings.Fields(want) {
		for pos < len(s) && (s[pos] == ' ' || s[pos] == '\t') {
			pos++
		}
		if len(s)-pos < len(w) || !strings.EqualFold(s[pos:pos+len(w)], w) {
			return 0, false
		}
		pos += len(w)
		if pos < len(s) && s[pos] != ' ' && s[pos] != '\t' {
			return 0, false
		}
	}
	return pos, true
}
