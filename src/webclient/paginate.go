package webclient

import (
	"context"
	"net/url"
	"strconv"
)

// PageStyle selects how page parameters are encoded.
type PageStyle int

const (
	// PageStyleCountPage sends count=N&page=P with 1-based pages.
	PageStyleCountPage PageStyle = iota
	// PageStyleLimitOffset sends limit=N&offset=(P-1)*N.
	PageStyleLimitOffset
)

// PageQuery returns a copy of query carrying the page parameters for page
// (1-based) in the requester's style.
func (r *Requester) PageQuery(query url.Values, pageSize, page int) url.Values {
	q := url.Values{}
	for k, v := range query {
		q[k] = append([]string(nil), v...)
	}
	switch r.opts.PageStyle {
	case PageStyleLimitOffset:
		q.Set("limit", strconv.Itoa(pageSize))
		q.Set("offset", strconv.Itoa((page-1)*pageSize))
	default:
		q.Set("count", strconv.Itoa(pageSize))
		q.Set("page", strconv.Itoa(page))
	}
	return q
}

// Paginate walks pages of endpoint until a short page (fewer than pageSize
// rows), maxPages pages, or fn returns false. A short page is end-of-data.
// maxPages <= 0 means unbounded.
func Paginate[T any](ctx context.Context, r *Requester, endpoint string, query url.Values, pageSize, maxPages int, fn func(page int, rows []T) (bool, error)) error {
	if pageSize <= 0 {
		pageSize = 100
	}
	for page := 1; maxPages <= 0 || page <= maxPages; page++ {
		var rows []T
		if err := r.Get(ctx, endpoint, r.PageQuery(query, pageSize, page), &rows); err != nil {
			return err
		}
		more, err := fn(page, rows)
		if err != nil {
			return err
		}
		if !more || len(rows) < pageSize {
			return nil
		}
	}
	return nil
}

// CollectAll is Paginate gathering every row.
func CollectAll[T any](ctx context.Context, r *Requester, endpoint string, query url.Values, pageSize, maxPages int) ([]T, error) {
	var all []T
	err := Paginate(ctx, r, endpoint, query, pageSize, maxPages, func(_ int, rows []T) (bool, error) {
		all = append(all, rows...)
		return true, nil
	})
	return all, err
}
