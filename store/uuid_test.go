package store

import (
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

var v7Pattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-7[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

func TestNewV7Shape(t *testing.T) {
	for i := 0; i < 100; i++ {
		id := NewV7()
		if !v7Pattern.MatchString(id) {
			t.Fatalf("id %q does not match the UUIDv7 pattern", id)
		}
		if _, err := uuid.Parse(id); err != nil {
			t.Fatalf("id %q does not round-trip through uuid.Parse: %v", id, err)
		}
	}
}

func TestNewV7Timestamp(t *testing.T) {
	before := time.Now().UnixMilli()
	id := NewV7()
	after := time.Now().UnixMilli()

	hex := strings.ReplaceAll(id, "-", "")[:12]
	ms, err := strconv.ParseInt(hex, 16, 64)
	if err != nil {
		t.Fatalf("parse timestamp bits: %v", err)
	}
	if ms < before || ms > after {
		t.Errorf("embedded millis %d outside [%d, %d]", ms, before, after)
	}
}

func TestNewV7Unique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := NewV7()
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = struct{}{}
	}
}

func TestNewV7SortsByCreation(t *testing.T) {
	a := NewV7()
	time.Sleep(2 * time.Millisecond)
	b := NewV7()
	if !(a < b) {
		t.Errorf("expected %q < %q", a, b)
	}
}
