package testfixtures

import "testing"

func TestRunIDsProducesSequentialIDs(t *testing.T) {
	gen := NewRunIDs("")

	first := gen.Next()
	second := gen.Next()

	if first != "run-1" || second != "run-2" {
		t.Fatalf("unexpected identifiers: %q, %q", first, second)
	}
	if issued := gen.Issued(); len(issued) != 2 || issued[1] != "run-2" {
		t.Fatalf("unexpected issued list: %v", issued)
	}
}

func TestRunIDsCanReset(t *testing.T) {
	gen := NewRunIDs("upgrade")
	_ = gen.Next()
	gen.Reset()

	if next := gen.NextFunc()(); next != "upgrade-1" {
		t.Fatalf("expected upgrade-1 after reset, got %q", next)
	}
}
