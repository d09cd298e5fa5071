package etl_test

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"saasloader/internal/etl"
)

// ─────────────────────────────────────────────────────────────
// Literal serialization
// ─────────────────────────────────────────────────────────────

func TestLiteral_Scalars(t *testing.T) {
	o := etl.CappedLiterals

	cases := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, "NULL"},
		{"empty string", "", "NULL"},
		{"true", true, "TRUE"},
		{"false", false, "FALSE"},
		{"int", 42, "42"},
		{"int64", int64(-7), "-7"},
		{"float", 3.25, "3.25"},
		{"json number", json.Number("12.50"), "12.50"},
		{"nan", math.NaN(), "NULL"},
		{"text", "hello", "'hello'"},
		{"quote stripped", "O'Brien", "'OBrien'"},
		{"percent and colon stripped", "50% at 10:30", "'50 at 1030'"},
		{"time", time.Date(2024, 3, 1, 9, 5, 0, 0, time.UTC), "'2024-03-01 09:05:00'"},
		{"zero time", time.Time{}, "NULL"},
		{"list", []string{"a:b", "c'd"}, "'ab,cd'"},
		{"empty list", []string{}, "NULL"},
		{"any list", []any{"x", 1}, "'x,1'"},
		{"map", map[string]any{"k": "v"}, `'{"k""v"}'`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, o.Literal(tc.in))
		})
	}
}

func TestLiteral_NumericCap(t *testing.T) {
	o := etl.LiteralOptions{NumericCap: 5}
	assert.Equal(t, "12345", o.Literal(1234567890))
	assert.LessOrEqual(t, len(o.Literal(json.Number("98765432109876"))), 5)
}

func TestLiteral_TextCapCountsCharacters(t *testing.T) {
	o := etl.CappedLiterals
	long := strings.Repeat("é", 400)
	got := o.Literal(long)
	assert.Equal(t, 302, len([]rune(got)), "300 characters plus two quotes")
}

func TestLiteral_ListNeverContainsStrippedCharacters(t *testing.T) {
	o := etl.CappedLiterals
	got := o.Literal([]string{"it's", "100%", "a:b:c", "plain"})
	inner := strings.TrimSuffix(strings.TrimPrefix(got, "'"), "'")
	assert.NotContains(t, inner, "'")
	assert.NotContains(t, inner, "%")
	assert.NotContains(t, inner, ":")
}

func TestLiteral_QuoteOnlyKeepsPercentAndColon(t *testing.T) {
	o := etl.QuoteStrippedLiterals
	assert.Equal(t, "'10:30 100%'", o.Literal("10:30 100%"))
	assert.Equal(t, "'OBrien'", o.Literal("O'Brien"))
}

func TestLiteral_Uncapped(t *testing.T) {
	o := etl.UncappedLiterals
	long := strings.Repeat("x", 1000)
	assert.Equal(t, "'"+long+"'", o.Literal(long))
}

func TestTuple(t *testing.T) {
	o := etl.CappedLiterals
	assert.Equal(t, "('5','OBrien')", o.Tuple([]any{"5", "O'Brien"}))
	assert.Equal(t, "(1,NULL,TRUE)", o.Tuple([]any{1, nil, true}))
}
