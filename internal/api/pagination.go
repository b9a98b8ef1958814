package api

import (
	"math"
	"net/http"
	"net/url"
	"strconv"

	"github.com/smukkama/vrisa/internal/apperr"
	"github.com/smukkama/vrisa/internal/database"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type pageParams struct {
	number int
	size   int
}

// parsePage reads page and page_size. page_size is clamped to
// maxPageSize rather than rejected.
func parsePage(r *http.Request) (pageParams, error) {
	p := pageParams{number: 1, size: defaultPageSize}
	q := r.URL.Query()

	if raw := q.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return p, apperr.NotFoundf("invalid page")
		}
		p.number = n
	}
	if raw := q.Get("page_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return p, apperr.Invalidf("page_size must be a positive integer")
		}
		p.size = min(n, maxPageSize)
	}
	if p.number > math.MaxInt/p.size {
		return p, apperr.NotFoundf("invalid page")
	}
	return p, nil
}

func (p pageParams) window() database.Page {
	return database.Page{Limit: p.size, Offset: (p.number - 1) * p.size}
}

type pageResponse[T any] struct {
	Count       int     `json:"count"`
	Next        *string `json:"next"`
	Previous    *string `json:"previous"`
	TotalPages  int     `json:"total_pages"`
	CurrentPage int     `json:"current_page"`
	Results     []T     `json:"results"`
}

// writePage writes the paginated envelope. A page past the last one is
// NotFound, except page 1 of an empty listing.
func writePage[T any](s *Server, w http.ResponseWriter, r *http.Request, p pageParams, results []T, total int) {
	totalPages := (total + p.size - 1) / p.size
	if totalPages == 0 {
		totalPages = 1
	}
	if p.number > totalPages {
		s.fail(w, r, apperr.NotFoundf("invalid page"))
		return
	}
	if results == nil {
		results = []T{}
	}

	resp := pageResponse[T]{
		Count:       total,
		TotalPages:  totalPages,
		CurrentPage: p.number,
		Results:     results,
	}
	if p.number < totalPages {
		next := pageURL(r, p.number+1)
		resp.Next = &next
	}
	if p.number > 1 {
		prev := pageURL(r, p.number-1)
		resp.Previous = &prev
	}
	writeJSON(w, http.StatusOK, resp)
}

// pageURL is the absolute URL of the same listing at another page.
func pageURL(r *http.Request, page int) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if forwarded := r.Header.Get("X-Forwarded-Proto"); forwarded != "" {
		scheme = forwarded
	}

	q := r.URL.Query()
	q.Set("page", strconv.Itoa(page))
	u := url.URL{Scheme: scheme, Host: r.Host, Path: r.URL.Path, RawQuery: q.Encode()}
	return u.String()
}
