package main

import (
	"testing"
)

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename string
		valid    bool
		version  int
		name     string
	}{
		{"0001_create_documents.sql", true, 1, "create_documents"},
		{"0003_create_recurring_patterns.sql", true, 3, "create_recurring_patterns"},
		{"001_invalid.sql", false, 0, ""},        // wrong version width
		{"0001_test", false, 0, ""},              // missing .sql
		{"0001.sql", false, 0, ""},               // missing name
		{"invalid_0001_test.sql", false, 0, ""},  // wrong order
		{"README.md", false, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, ok := parseMigrationFilename(tt.filename)
			if ok != tt.valid {
				t.Fatalf("ok = %v, want %v", ok, tt.valid)
			}
			if !tt.valid {
				return
			}
			if version != tt.version || name != tt.name {
				t.Errorf("parsed %d/%q, want %d/%q", version, name, tt.version, tt.name)
			}
		})
	}
}
