package directory

import (
	"encoding/json"
	"fmt"
)

// Catalog names a searchable directory
type Catalog string

const (
	CatalogPatient      Catalog = "PATIENT"
	CatalogPractitioner Catalog = "PRACTITIONER"
	CatalogICD10        Catalog = "ICD10"
	CatalogProcedure    Catalog = "PROCEDURE"
	CatalogVisit        Catalog = "VISIT"
)

// Catalogs lists all searchable directories
var Catalogs = []Catalog{
	CatalogPatient,
	CatalogPractitioner,
	CatalogICD10,
	CatalogProcedure,
	CatalogVisit,
}

// IsValid reports whether the catalog name is known
func (c Catalog) IsValid() bool {
	for _, known := range Catalogs {
		if c == known {
			return true
		}
	}
	return false
}

// SearchRequest is the request accepted by the search proxy
type SearchRequest struct {
	Catalog  Catalog           `json:"catalog"`
	Query    string            `json:"query"`
	Page     int               `json:"page"`
	PageSize int               `json:"pageSize"`
	Filters  map[string]string `json:"filters,omitempty"`
}

// Result is the outcome of one catalog search. Dispatched is false
// when the query was below the minimum length and no network call was
// made; that case is indistinguishable from an empty result only by
// this flag.
type Result struct {
	Catalog    Catalog           `json:"catalog"`
	Dispatched bool              `json:"dispatched"`
	Items      []json.RawMessage `json:"items"`
	Page       int               `json:"page"`
	PageSize   int               `json:"pageSize"`
}

// SearchError reports a failed catalog search. Directory failures are
// non-fatal for the workflow; the caller shows an empty result and a
// diagnostic.
type SearchError struct {
	Catalog Catalog
	Err     error
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("%s search failed: %v", e.Catalog, e.Err)
}

func (e *SearchError) Unwrap() error {
	return e.Err
}

// upstream wire format

type upstreamRequest struct {
	Page       int               `json:"page"`
	PageSize   int               `json:"pageSize"`
	SearchText string            `json:"searchText,omitempty"`
	Filters    map[string]string `json:"filters,omitempty"`
}

// envelope is the response wrapper every directory service uses. The
// spelling of isSuccessfull matches the upstream contract.
type envelope struct {
	IsSuccessfull bool            `json:"isSuccessfull"`
	DynamicResult json.RawMessage `json:"dynamicResult"`
	ErrorMessage  string          `json:"errorMessage"`
}
