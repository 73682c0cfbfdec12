// Package store persists cinema records. The sync pipeline reads a cinema,
// resolves its current listing, and overwrites the record's movie ID list.
//
// Records live in a single DynamoDB table keyed by PK=CINEMA#{id}, SK=META.
// Everything except movieIds is owned by the catalog backend; this package
// only ever writes that one attribute.
package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

// ErrNotFound is returned when a cinema record does not exist.
var ErrNotFound = errors.New("cinema not found")

// Address is the postal address of a cinema.
type Address struct {
	Street     string `dynamodbav:"street,omitempty" json:"street,omitempty"`
	City       string `dynamodbav:"city,omitempty" json:"city,omitempty"`
	Province   string `dynamodbav:"province,omitempty" json:"province,omitempty"`
	PostalCode string `dynamodbav:"postalCode,omitempty" json:"postalCode,omitempty"`
	Country    string `dynamodbav:"country,omitempty" json:"country,omitempty"`
}

// Cinema is a cinema record. MovieIDs is the only field the pipeline writes.
type Cinema struct {
	ID        string  `dynamodbav:"-" json:"id"`
	Name      string  `dynamodbav:"name" json:"name"`
	URL       string  `dynamodbav:"url,omitempty" json:"url,omitempty"`
	Address   Address `dynamodbav:"address" json:"address"`
	IsDeleted bool    `dynamodbav:"isDeleted" json:"isDeleted"`
	MovieIDs  []int   `dynamodbav:"movieIds" json:"movieIds"`
	UpdatedAt int64   `dynamodbav:"updatedAt,omitempty" json:"updatedAt,omitempty"`
}

// HasURL reports whether the cinema has a listing page to visit.
func (c *Cinema) HasURL() bool {
	return strings.TrimSpace(c.URL) != ""
}

// Filter selects cinemas for a batch. A nil Country matches every country.
type Filter struct {
	Country    *regexp.Regexp
	RequireURL bool
}

// Match reports whether c passes the filter. Deleted cinemas never match.
func (f Filter) Match(c *Cinema) bool {
	if c.IsDeleted {
		return false
	}
	if f.Country != nil && !f.Country.MatchString(strings.TrimSpace(c.Address.Country)) {
		return false
	}
	if f.RequireURL && !c.HasURL() {
		return false
	}
	return true
}

// CinemaStore is the persistence interface used by the sync pipeline.
// Implementations must be safe for concurrent use.
type CinemaStore interface {
	// GetCinema returns the cinema or ErrNotFound.
	GetCinema(ctx context.Context, id string) (*Cinema, error)

	// SaveMovieIDs replaces the cinema's movie ID list. The previous list
	// is discarded, never merged. Other attributes are left untouched.
	SaveMovieIDs(ctx context.Context, id string, movieIDs []int) error

	// ListCinemas returns every cinema matching the filter, ordered by ID.
	ListCinemas(ctx context.Context, filter Filter) ([]*Cinema, error)
}
