package core

import "testing"

func TestVectorAddElementWise(t *testing.T) {
	a := Vector{1, 2, 3}
	b := Vector{10, 20, 30}
	sum, err := a.Add(b)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	want := Vector{11, 22, 33}
	if !sum.Equal(want) {
		t.Fatalf("expected %v, got %v", want, sum)
	}
}

func TestVectorAddRejectsLengthMismatch(t *testing.T) {
	a := Vector{1, 2}
	b := Vector{1, 2, 3}
	if _, err := a.Add(b); err == nil {
		t.Fatalf("expected an error for mismatched lengths")
	} else if kind, ok := KindOf(err); !ok || kind != ErrDimensionMismatch {
		t.Fatalf("expected ErrDimensionMismatch, got %v (ok=%v)", err, ok)
	}
}

func TestVectorSubElementWise(t *testing.T) {
	a := Vector{10, 20, 30}
	b := Vector{1, 2, 3}
	diff, err := a.Sub(b)
	if err != nil {
		t.Fatalf("Sub: %v", err)
	}
	want := Vector{9, 18, 27}
	if !diff.Equal(want) {
		t.Fatalf("expected %v, got %v", want, diff)
	}
}

func TestVectorSubRejectsLengthMismatch(t *testing.T) {
	a := Vector{1, 2, 3}
	b := Vector{1}
	if _, err := a.Sub(b); err == nil {
		t.Fatalf("expected an error for mismatched lengths")
	} else if kind, ok := KindOf(err); !ok || kind != ErrDimensionMismatch {
		t.Fatalf("expected ErrDimensionMismatch, got %v (ok=%v)", err, ok)
	}
}

func TestVectorEqualIgnoresIdentityComparesContents(t *testing.T) {
	a := Vector{1, 2, 3}
	b := Vector{1, 2, 3}
	c := Vector{1, 2, 4}
	if !a.Equal(b) {
		t.Fatalf("expected equal vectors with identical contents to compare equal")
	}
	if a.Equal(c) {
		t.Fatalf("expected vectors differing in one element to compare unequal")
	}
}

func TestVectorEqualRejectsDifferentLength(t *testing.T) {
	a := Vector{1, 2, 3}
	b := Vector{1, 2}
	if a.Equal(b) {
		t.Fatalf("expected vectors of different length to compare unequal")
	}
}
