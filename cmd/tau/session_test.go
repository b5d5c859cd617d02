package main

import "testing"

func TestTruncate(t *testing.T) {
	if got := truncate("short", 120); got != "short" {
		t.Fatalf("truncate should not modify strings under the limit, got %q", got)
	}
	long := ""
	for i := 0; i < 200; i++ {
		long += "a"
	}
	got := truncate(long, 120)
	if len(got) != 120 {
		t.Fatalf("truncate(%d chars, 120) returned %d chars, want 120", len(long), len(got))
	}
	if got[117:] != "..." {
		t.Fatalf("truncate should end with an ellipsis, got %q", got[117:])
	}
}
