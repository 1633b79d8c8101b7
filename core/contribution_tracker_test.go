package core

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestContributionSplitRootModelFoldsImproverDust(t *testing.T) {
	tree := NewContributionTree()
	if err := tree.AddRoot("base"); err != nil {
		t.Fatalf("AddRoot: %v", err)
	}
	tracker := NewContributionTracker(tree)

	result, err := tracker.Split(100, []string{"w1", "w2"}, "base")
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if !almostEqual(result["base"], 9.0) {
		t.Fatalf("expected root to receive uploader share 9.0, got %v", result["base"])
	}
	if !almostEqual(result["w1"], 45.5) || !almostEqual(result["w2"], 45.5) {
		t.Fatalf("expected providers to split provider pool + dust evenly, got %+v", result)
	}

	var total float64
	for _, v := range result {
		total += v
	}
	if !almostEqual(total, 100) {
		t.Fatalf("expected split to sum to fee exactly, got %v", total)
	}
}

func TestContributionSplitWithImproverChain(t *testing.T) {
	tree := NewContributionTree()
	if err := tree.AddRoot("base"); err != nil {
		t.Fatalf("AddRoot: %v", err)
	}
	if err := tree.AddImprovement("v2", "base"); err != nil {
		t.Fatalf("AddImprovement: %v", err)
	}
	if err := tree.AddImprovement("v3", "v2"); err != nil {
		t.Fatalf("AddImprovement: %v", err)
	}
	tracker := NewContributionTracker(tree)

	result, err := tracker.Split(100, []string{"w1"}, "v3")
	if err != nil {
		t.Fatalf("Split: %v", err)
	}

	if !almostEqual(result["base"], 9.0) {
		t.Fatalf("expected uploader (root) share 9.0, got %v", result["base"])
	}
	if result["v3"] <= result["v2"] {
		t.Fatalf("expected the nearer improver (v3) to receive more than the further one (v2): v3=%v v2=%v", result["v3"], result["v2"])
	}

	var total float64
	for _, v := range result {
		total += v
	}
	if !almostEqual(total, 100) {
		t.Fatalf("expected split to sum to fee exactly, got %v", total)
	}
}

func TestContributionSplitRejectsNoProviders(t *testing.T) {
	tree := NewContributionTree()
	_ = tree.AddRoot("base")
	tracker := NewContributionTracker(tree)

	if _, err := tracker.Split(10, nil, "base"); err == nil {
		t.Fatalf("expected error for empty providers list")
	}
}

func TestContributionSplitRejectsNegativeFee(t *testing.T) {
	tree := NewContributionTree()
	_ = tree.AddRoot("base")
	tracker := NewContributionTracker(tree)

	if _, err := tracker.Split(-1, []string{"w1"}, "base"); err == nil {
		t.Fatalf("expected error for negative fee")
	}
}

func TestContributionTreeRejectsUnknownParent(t *testing.T) {
	tree := NewContributionTree()
	if err := tree.AddImprovement("v2", "missing-root"); err == nil {
		t.Fatalf("expected error for unknown parent")
	}
}

func TestContributionTreeRejectsDuplicateID(t *testing.T) {
	tree := NewContributionTree()
	if err := tree.AddRoot("base"); err != nil {
		t.Fatalf("AddRoot: %v", err)
	}
	if err := tree.AddRoot("base"); err == nil {
		t.Fatalf("expected error for duplicate root id")
	}
}
