package index

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsNoRecordsErr(t *testing.T) {
	cases := map[string]bool{
		"Result contains no more records": true,
		"result contains no more records": true,
		"connection refused":              false,
		"":                                false,
	}
	for msg, want := range cases {
		var err error
		if msg != "" {
			err = errors.New(msg)
		}
		if got := isNoRecordsErr(err); got != want {
			t.Errorf("isNoRecordsErr(%q) = %v, want %v", msg, got, want)
		}
	}
	if !isNoRecordsErr(fmt.Errorf("query failed: %w", errors.New("Result contains no more records"))) {
		t.Error("wrapped driver error not recognized")
	}
}

func TestLabelAndRelationAllowlists(t *testing.T) {
	for table, want := range tableLabels {
		got, err := label(table)
		if err != nil || got != want {
			t.Errorf("label(%q) = %q, %v", table, got, err)
		}
	}
	if _, err := label("users; DROP"); err == nil {
		t.Error("unknown table accepted")
	}
	if _, err := relName("owns"); err == nil {
		t.Error("unknown relation accepted")
	}
}
