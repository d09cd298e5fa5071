package httpx

import (
	"context"
	"fmt"
)

// MaxPages is the hard ceiling on pages fetched by Paginate.
var MaxPages = 100000

// PageFunc fetches the page addressed by cursor and returns its items, the
// cursor of the following page and whether the provider reports more pages.
type PageFunc[C comparable, T any] func(ctx context.Context, cursor C) (items []T, next C, more bool, err error)

// Paginate calls fetch until the provider signals exhaustion and returns all
// items in response order. Exhaustion is more == false or a next cursor equal
// to the current one.
func Paginate[C comparable, T any](ctx context.Context, start C, fetch PageFunc[C, T]) ([]T, error) {
	var all []T
	cursor := start
	for page := 0; ; page++ {
		if page >= MaxPages {
			return all, fmt.Errorf("pagination exceeded %d pages", MaxPages)
		}
		if err := ctx.Err(); err != nil {
			return all, err
		}
		items, next, more, err := fetch(ctx, cursor)
		if err != nil {
			return all, err
		}
		all = append(all, items...)
		if !more || next == cursor {
			return all, nil
		}
		cursor = next
	}
}
