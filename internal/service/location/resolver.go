// Package location maps tables and views to the storage prefixes they own.
package location

import (
	"fmt"

	"lake-catalog/internal/domain"
)

// Purpose selects which part of a table's location a caller needs.
type Purpose string

const (
	PurposeAll      Purpose = "all"
	PurposeData     Purpose = "data"
	PurposeMetadata Purpose = "metadata"
)

// ParsePurpose validates a purpose name. Empty means PurposeAll.
func ParsePurpose(s string) (Purpose, error) {
	switch Purpose(s) {
	case "", PurposeAll:
		return PurposeAll, nil
	case PurposeData, PurposeMetadata:
		return Purpose(s), nil
	}
	return "", domain.ErrValidation("unknown location purpose %q", s)
}

// Resolution is where a table or view lives.
type Resolution struct {
	BackendType domain.StorageType
	Root        domain.Location
	Location    domain.Location
	// Prefixes are the sub-prefixes applicable to the requested purpose.
	Prefixes []domain.Location
}

// ResolveFor resolves a table or view within its warehouse. A stored
// location outside the warehouse root is an integrity failure and is never
// returned.
func ResolveFor(w *domain.Warehouse, t *domain.Tabular, purpose Purpose) (*Resolution, error) {
	root := WarehouseRoot(w)
	if root == "" {
		return nil, fmt.Errorf("warehouse %s has no storage root", w.ID)
	}
	if !t.Location.IsBeneath(root) || t.Location == root {
		return nil, fmt.Errorf("integrity: location of %s %s is not beneath warehouse root", t.Kind, t.ID)
	}
	return &Resolution{
		BackendType: w.StorageProfile.Type,
		Root:        root,
		Location:    t.Location,
		Prefixes:    SubPrefixes(t.Location, purpose),
	}, nil
}

// WarehouseRoot returns the root every location in the warehouse lies under.
func WarehouseRoot(w *domain.Warehouse) domain.Location {
	return w.StorageProfile.Root()
}

// ForNewTabular computes the location of a table or view being created:
// <warehouse-root>/<namespace-id>/<tabular-id>.
func ForNewTabular(w *domain.Warehouse, namespaceID, tabularID string) domain.Location {
	return WarehouseRoot(w).Join(namespaceID, tabularID)
}

// SubPrefixes returns the data and metadata prefixes of a location.
func SubPrefixes(loc domain.Location, purpose Purpose) []domain.Location {
	switch purpose {
	case PurposeData:
		return []domain.Location{DataPrefix(loc)}
	case PurposeMetadata:
		return []domain.Location{MetadataPrefix(loc)}
	default:
		return []domain.Location{DataPrefix(loc), MetadataPrefix(loc)}
	}
}

// DataPrefix is where data files of a table live.
func DataPrefix(loc domain.Location) domain.Location { return loc.Join("data") }

// MetadataPrefix is where metadata files of a table or view live.
func MetadataPrefix(loc domain.Location) domain.Location { return loc.Join("metadata") }
