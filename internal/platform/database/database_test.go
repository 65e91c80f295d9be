package database

import (
	"context"
	"testing"
)

func TestOpenRejectsBlankDSN(t *testing.T) {
	if _, err := Open(context.Background(), "   "); err == nil {
		t.Fatalf("expected a blank DSN to be rejected before attempting to connect")
	}
}
