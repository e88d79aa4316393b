package models

import (
	"errors"
	"testing"
)

func TestQueryRequest_Validate(t *testing.T) {
	q := &QueryRequest{Query: "  what is this?  "}
	if err := q.Validate(); err != nil {
		t.Fatal(err)
	}
	if q.Query != "what is this?" {
		t.Errorf("query not trimmed: %q", q.Query)
	}
	if err := (&QueryRequest{Query: " \n"}).Validate(); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("expected ErrEmptyQuery, got %v", err)
	}
}

func TestSearchRequest_Validate(t *testing.T) {
	tests := []struct {
		name      string
		req       *SearchRequest
		wantErr   bool
		wantMode  string
		wantLimit int
	}{
		{"empty query", &SearchRequest{Query: ""}, true, "", 0},
		{"defaults", &SearchRequest{Query: "x"}, false, SearchModeSemantic, 5},
		{"caps limit at 100", &SearchRequest{Query: "x", Limit: 200}, false, SearchModeSemantic, 100},
		{"keyword mode", &SearchRequest{Query: "x", Mode: "keyword", Limit: 3}, false, SearchModeKeyword, 3},
		{"hybrid mode", &SearchRequest{Query: " x ", Mode: "hybrid"}, false, SearchModeHybrid, 5},
		{"unknown mode", &SearchRequest{Query: "x", Mode: "fuzzy"}, true, "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if tt.req.Mode != tt.wantMode || tt.req.Limit != tt.wantLimit {
				t.Errorf("got mode=%s limit=%d", tt.req.Mode, tt.req.Limit)
			}
		})
	}
}
