package etl

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ── Literal serialization ──────────────────────────────────
// Warehouse rows are staged with a single multi-row INSERT whose values are
// rendered inline. Each provider historically used its own caps and strip
// set, so the options are kept per operator rather than unified.

// LiteralOptions controls how values are rendered as SQL literals.
type LiteralOptions struct {
	NumericCap int    // max characters for numbers, 0 = uncapped
	TextCap    int    // max characters for text and lists, 0 = uncapped
	Strip      string // characters removed from text and list values
}

var (
	// CappedLiterals is used by the Zoom, Outreach, SurveyGizmo and YouCanBookMe loaders.
	CappedLiterals = LiteralOptions{NumericCap: 499, TextCap: 300, Strip: "'%:"}
	// UncappedLiterals is used by the GoToWebinar loader.
	UncappedLiterals = LiteralOptions{Strip: "'%:"}
	// QuoteStrippedLiterals is used by the Zuora loader.
	QuoteStrippedLiterals = LiteralOptions{Strip: "'"}
	// CappedQuoteStrippedLiterals is used for delimited files loaded from S3.
	CappedQuoteStrippedLiterals = LiteralOptions{NumericCap: 499, TextCap: 300, Strip: "'"}
)

const sqlTimeLayout = "2006-01-02 15:04:05"

// Literal renders v as a SQL literal.
func (o LiteralOptions) Literal(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if x {
			return "TRUE"
		}
		return "FALSE"
	case int:
		return o.number(strconv.Itoa(x))
	case int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return o.number(fmt.Sprint(x))
	case float32:
		return o.float(float64(x), 32)
	case float64:
		return o.float(x, 64)
	case json.Number:
		return o.number(x.String())
	case time.Time:
		if x.IsZero() {
			return "NULL"
		}
		return "'" + x.UTC().Format(sqlTimeLayout) + "'"
	case *time.Time:
		if x == nil {
			return "NULL"
		}
		return o.Literal(*x)
	case []string:
		return o.list(x)
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = fmt.Sprint(e)
		}
		return o.list(parts)
	case string:
		return o.text(x)
	case []byte:
		return o.text(string(x))
	case fmt.Stringer:
		return o.text(x.String())
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return o.text(fmt.Sprint(x))
		}
		return o.text(string(b))
	}
}

// Tuple renders a row as "(v1,v2,...)".
func (o LiteralOptions) Tuple(row []any) string {
	var sb strings.Builder
	sb.WriteByte('(')
	for i, v := range row {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(o.Literal(v))
	}
	sb.WriteByte(')')
	return sb.String()
}

func (o LiteralOptions) float(f float64, bits int) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "NULL"
	}
	return o.number(strconv.FormatFloat(f, 'f', -1, bits))
}

func (o LiteralOptions) number(s string) string {
	return truncate(s, o.NumericCap)
}

func (o LiteralOptions) list(items []string) string {
	if len(items) == 0 {
		return "NULL"
	}
	return o.text(strings.Join(items, ","))
}

func (o LiteralOptions) text(s string) string {
	if s == "" {
		return "NULL"
	}
	s = truncate(o.StripChars(s), o.TextCap)
	return "'" + s + "'"
}

// StripChars removes every character of the strip set from s.
func (o LiteralOptions) StripChars(s string) string {
	if o.Strip == "" {
		return s
	}
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(o.Strip, r) {
			return -1
		}
		return r
	}, s)
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
