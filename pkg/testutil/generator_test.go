package testutil

import (
	"context"
	"reflect"
	"testing"

	"github.com/vanderheijden86/beadnav/internal/datasource"
	"github.com/vanderheijden86/beadnav/pkg/model"
)

func TestIssues_Deterministic(t *testing.T) {
	a := New(RealisticConfig(7)).Issues(200)
	b := New(RealisticConfig(7)).Issues(200)
	if !reflect.DeepEqual(a, b) {
		t.Fatal("same seed produced different issues")
	}
	c := New(RealisticConfig(8)).Issues(200)
	if reflect.DeepEqual(a, c) {
		t.Error("different seeds produced identical issues")
	}
}

func TestIssues_Shape(t *testing.T) {
	issues := New(RealisticConfig(1)).Issues(100)
	if len(issues) != 100 {
		t.Fatalf("len = %d, want 100", len(issues))
	}
	seen := make(map[string]bool)
	epics, deleted := 0, 0
	for i, is := range issues {
		if is.ID != IssueID("TEST", i) {
			t.Errorf("issue %d id = %s", i, is.ID)
		}
		if seen[is.ID] {
			t.Errorf("duplicate id %s", is.ID)
		}
		seen[is.ID] = true
		if is.Type == "epic" {
			epics++
			if is.Epic != "" {
				t.Errorf("epic %s has a parent", is.ID)
			}
		} else if is.Epic == "" {
			t.Errorf("%s is not under an epic", is.ID)
		}
		if is.Deleted {
			deleted++
		}
		if is.Priority < 0 || is.Priority > 4 {
			t.Errorf("%s priority = %d", is.ID, is.Priority)
		}
	}
	if epics != 4 {
		t.Errorf("epics = %d, want 4", epics)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}
	if got := len(Live(issues)); got != 98 {
		t.Errorf("live = %d, want 98", got)
	}
}

func TestIssues_DefaultConfig(t *testing.T) {
	for _, is := range NewDefault().Issues(20) {
		if is.Status != "open" || is.Type != "task" || is.Assignee != "" || len(is.Labels) != 0 {
			t.Fatalf("unexpected issue %+v", is)
		}
	}
}

func TestWriteBeadsDB_Counts(t *testing.T) {
	issues := New(RealisticConfig(3)).Issues(60)
	dir := TempBeadsDir(t)
	WriteBeadsDB(t, dir, issues)

	store, err := datasource.OpenConnection(context.Background(), model.NewConnection("gen", dir))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	n, err := store.CountIssues(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if want := len(Live(issues)); n != want {
		t.Errorf("CountIssues = %d, want %d", n, want)
	}
}

func TestCountBy(t *testing.T) {
	issues := []datasource.FixtureIssue{
		{ID: "a", Status: "open", Type: "bug", Labels: []string{"ui", "perf"}},
		{ID: "b", Status: "open", Type: "task", Labels: []string{"ui"}},
		{ID: "c", Status: "closed", Type: "task", Deleted: true, Labels: []string{"docs"}},
	}
	AssertCounts(t, "status", CountByStatus(issues), map[string]int{"open": 2})
	AssertCounts(t, "type", CountByType(issues), map[string]int{"bug": 1, "task": 1})
	AssertCounts(t, "label", CountByLabel(issues), map[string]int{"ui": 2, "perf": 1})
}
