package core

import (
	"testing"
	"time"
)

// TestNewIDUniqueness tests that NewID generates unique identifiers
func TestNewIDUniqueness(t *testing.T) {
	const numIDs = 1000

	ids := make(map[ID]bool, numIDs)
	for i := 0; i < numIDs; i++ {
		id := NewID()
		if id.IsEmpty() {
			t.Errorf("Generated empty ID at iteration %d", i)
		}
		if ids[id] {
			t.Errorf("Generated duplicate ID: %s", id)
		}
		ids[id] = true
	}
}

// TestParseRunID tests run ID parsing
func TestParseRunID(t *testing.T) {
	valid := NewRunID()
	tests := []struct {
		input    string
		hasError bool
	}{
		{valid.String(), false},
		{"", true},
		{"   ", true},
		{"not-a-uuid", true},
	}

	for _, test := range tests {
		result, err := ParseRunID(test.input)
		if test.hasError {
			if err == nil {
				t.Errorf("ParseRunID(%q) expected error, got %q", test.input, result)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseRunID(%q) unexpected error: %v", test.input, err)
		}
		if result != valid {
			t.Errorf("ParseRunID(%q) = %q", test.input, result)
		}
	}
}

func TestRunIDCreatedAt(t *testing.T) {
	before := time.Now().Add(-time.Second)
	id := NewRunID()

	at, ok := id.CreatedAt()
	if !ok {
		t.Fatal("expected v7 run ID to carry a timestamp")
	}
	if at.Before(before) || at.After(time.Now().Add(time.Second)) {
		t.Errorf("CreatedAt %v outside expected window", at)
	}

	if _, ok := RunID("bogus").CreatedAt(); ok {
		t.Error("expected bogus run ID to have no timestamp")
	}
}
