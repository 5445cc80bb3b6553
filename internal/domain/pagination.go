package domain

import (
	"encoding/base64"
	"strconv"
	"strings"
)

// DefaultMaxResults is the default page size when none is specified.
const DefaultMaxResults = 100

// MaxMaxResults is the maximum allowed page size.
const MaxMaxResults = 1000

const pageTokenPrefix = "off:"

// PageRequest holds pagination parameters for list operations.
type PageRequest struct {
	MaxResults int
	PageToken  string // opaque, base64 of "off:<n>"
}

// Offset decodes the page token into an integer offset.
// Returns 0 if the token is empty or invalid.
func (p PageRequest) Offset() int {
	if p.PageToken == "" {
		return 0
	}
	decoded, err := base64.RawURLEncoding.DecodeString(p.PageToken)
	if err != nil {
		return 0
	}
	raw, ok := strings.CutPrefix(string(decoded), pageTokenPrefix)
	if !ok {
		return 0
	}
	offset, err := strconv.Atoi(raw)
	if err != nil || offset < 0 {
		return 0
	}
	return offset
}

// Limit returns the effective page size, clamped to [1, MaxMaxResults].
func (p PageRequest) Limit() int {
	if p.MaxResults <= 0 {
		return DefaultMaxResults
	}
	if p.MaxResults > MaxMaxResults {
		return MaxMaxResults
	}
	return p.MaxResults
}

// EncodePageToken creates an opaque page token from an offset.
func EncodePageToken(offset int) string {
	if offset <= 0 {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString([]byte(pageTokenPrefix + strconv.Itoa(offset)))
}

// Page is one page of a filtered listing.
type Page[T any] struct {
	Items         []T
	NextPageToken string
}

// Paginate slices items (already filtered for visibility) by the request.
func Paginate[T any](items []T, req PageRequest) Page[T] {
	offset, limit := req.Offset(), req.Limit()
	if offset >= len(items) {
		return Page[T]{Items: []T{}}
	}
	end := offset + limit
	next := ""
	if end < len(items) {
		next = EncodePageToken(end)
	} else {
		end = len(items)
	}
	return Page[T]{Items: items[offset:end], NextPageToken: next}
}
