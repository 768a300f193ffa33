package directory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/carelink-health/platform/internal/shared/config"
)

func testConfig(url string) config.DirectoryConfig {
	return config.DirectoryConfig{
		PatientURL:      url + "/patients",
		PractitionerURL: url + "/practitioners",
		ICD10URL:        url + "/icd10",
		ProcedureURL:    url + "/procedures",
		VisitURL:        url + "/visits",
		MinQueryLength:  3,
		DefaultPageSize: 10,
		Timeout:         5 * time.Second,
	}
}

// TestSearchShortQueryNotDispatched tests the minimum length gate
func TestSearchShortQueryNotDispatched(t *testing.T) {
	dispatched := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dispatched = true
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))

	for _, query := range []string{"", "a", "ab", "  ab  "} {
		result, err := client.Search(context.Background(), SearchRequest{
			Catalog: CatalogICD10,
			Query:   query,
		})
		if err != nil {
			t.Fatalf("Expected no error for query %q, got %v", query, err)
		}
		if result.Dispatched {
			t.Errorf("Expected query %q not to dispatch", query)
		}
		if len(result.Items) != 0 {
			t.Errorf("Expected no items for query %q", query)
		}
	}

	if dispatched {
		t.Error("Short queries must never reach the network")
	}
}

// TestSearchSuccess tests envelope unwrapping on success
func TestSearchSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}

		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("Failed to decode upstream request: %v", err)
		}
		if req["searchText"] != "pneumonia" {
			t.Errorf("Expected searchText pneumonia, got %v", req["searchText"])
		}
		if req["page"] != float64(1) || req["pageSize"] != float64(10) {
			t.Errorf("Expected default paging, got page=%v pageSize=%v", req["page"], req["pageSize"])
		}

		json.NewEncoder(w).Encode(map[string]any{
			"isSuccessfull": true,
			"dynamicResult": []map[string]any{
				{"code": "J18.9", "description": "Pneumonia, unspecified organism"},
				{"code": "J15.9", "description": "Unspecified bacterial pneumonia"},
			},
		})
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))

	result, err := client.Search(context.Background(), SearchRequest{
		Catalog: CatalogICD10,
		Query:   "pneumonia",
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !result.Dispatched {
		t.Error("Expected search to dispatch")
	}
	if len(result.Items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(result.Items))
	}

	var first map[string]string
	if err := json.Unmarshal(result.Items[0], &first); err != nil {
		t.Fatalf("Failed to decode item: %v", err)
	}
	if first["code"] != "J18.9" {
		t.Errorf("Expected first code J18.9, got %s", first["code"])
	}
}

// TestSearchEmptySuccess tests that an empty success is not an error
func TestSearchEmptySuccess(t *testing.T) {
	payloads := []string{
		`{"isSuccessfull": true, "dynamicResult": []}`,
		`{"isSuccessfull": true, "dynamicResult": null}`,
		`{"isSuccessfull": true}`,
		`{"isSuccessfull": true, "dynamicResult": {"data": [], "totalCount": 0}}`,
	}

	for _, payload := range payloads {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(payload))
		}))

		client := NewClient(testConfig(server.URL))
		result, err := client.Search(context.Background(), SearchRequest{
			Catalog: CatalogPatient,
			Query:   "nobody here",
		})
		server.Close()

		if err != nil {
			t.Errorf("Payload %s: expected no error, got %v", payload, err)
			continue
		}
		if !result.Dispatched {
			t.Errorf("Payload %s: expected dispatch", payload)
		}
		if len(result.Items) != 0 {
			t.Errorf("Payload %s: expected empty items, got %d", payload, len(result.Items))
		}
	}
}

// TestSearchEnvelopeFailure tests that the envelope flag gates success
func TestSearchEnvelopeFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// HTTP 200 but the envelope says no
		json.NewEncoder(w).Encode(map[string]any{
			"isSuccessfull": false,
			"errorMessage":  "Coverage expired",
		})
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))

	_, err := client.Search(context.Background(), SearchRequest{
		Catalog: CatalogVisit,
		Filters: map[string]string{"patientId": "P-1"},
	})
	if err == nil {
		t.Fatal("Expected error for envelope failure")
	}

	searchErr, ok := err.(*SearchError)
	if !ok {
		t.Fatalf("Expected *SearchError, got %T", err)
	}
	if searchErr.Catalog != CatalogVisit {
		t.Errorf("Expected catalog %s, got %s", CatalogVisit, searchErr.Catalog)
	}
	if searchErr.Unwrap().Error() != "Coverage expired" {
		t.Errorf("Expected upstream message preserved, got %q", searchErr.Unwrap().Error())
	}
}

// TestSearchTransportFailure tests transport-level errors
func TestSearchTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))

	_, err := client.Search(context.Background(), SearchRequest{
		Catalog: CatalogPractitioner,
		Query:   "cardiology",
	})
	if err == nil {
		t.Fatal("Expected error for upstream 502")
	}
	if _, ok := err.(*SearchError); !ok {
		t.Fatalf("Expected *SearchError, got %T", err)
	}
}

// TestSearchFilterOnly tests that filter searches bypass the length gate
func TestSearchFilterOnly(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		filters, _ := req["filters"].(map[string]any)
		if filters["patientId"] != "P-2001" {
			t.Errorf("Expected patient filter, got %v", filters)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"isSuccessfull": true,
			"dynamicResult": []map[string]any{{"id": "V-1"}},
		})
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))

	result, err := client.Search(context.Background(), SearchRequest{
		Catalog: CatalogVisit,
		Filters: map[string]string{"patientId": "P-2001"},
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !result.Dispatched || len(result.Items) != 1 {
		t.Errorf("Expected one dispatched result, got %+v", result)
	}
}

// TestSequencerLatestWins tests the response ordering guard
func TestSequencerLatestWins(t *testing.T) {
	s := NewSequencer()

	first := s.Next("sess-1", CatalogICD10)
	second := s.Next("sess-1", CatalogICD10)

	if !s.Apply("sess-1", CatalogICD10, second) {
		t.Error("Expected the newer response to apply")
	}
	if s.Apply("sess-1", CatalogICD10, first) {
		t.Error("Expected the older response to be dropped")
	}

	// Other catalogs and sessions are independent
	other := s.Next("sess-1", CatalogPatient)
	if !s.Apply("sess-1", CatalogPatient, other) {
		t.Error("Expected other catalog to be unaffected")
	}
	otherSession := s.Next("sess-2", CatalogICD10)
	if !s.Apply("sess-2", CatalogICD10, otherSession) {
		t.Error("Expected other session to be unaffected")
	}

	s.Forget("sess-1")
	if got := s.Next("sess-1", CatalogICD10); got != 1 {
		t.Errorf("Expected sequence restart after forget, got %d", got)
	}
}
