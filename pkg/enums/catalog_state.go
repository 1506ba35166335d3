package enums

import "fmt"

// CatalogState tracks whether the pipeline manages a catalog item.
type CatalogState string

const (
	CatalogStateManaged   CatalogState = "managed"
	CatalogStateUnmanaged CatalogState = "unmanaged"
	CatalogStateDeleted   CatalogState = "deleted"
)

var validCatalogStates = []CatalogState{
	CatalogStateManaged,
	CatalogStateUnmanaged,
	CatalogStateDeleted,
}

// String returns the literal string for the state.
func (s CatalogState) String() string {
	return string(s)
}

// IsValid reports whether the state is known.
func (s CatalogState) IsValid() bool {
	for _, candidate := range validCatalogStates {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseCatalogState converts raw input into a CatalogState.
func ParseCatalogState(value string) (CatalogState, error) {
	for _, candidate := range validCatalogStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid catalog state %q", value)
}
