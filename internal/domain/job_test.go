package domain

import (
	"testing"
	"time"
)

func baseJob() *JobRecord {
	return &JobRecord{
		ID:          "id-1",
		ExternalID:  "ext-1",
		Title:       "Backend Engineer",
		Description: "Build services",
		Company:     "Acme",
		Location:    "Remote",
		Category:    "Engineering",
		JobType:     "Full-time",
		Salary:      "$100,000",
		URL:         "https://example.com/jobs/1",
		ApplyURL:    "https://example.com/jobs/1/apply",
	}
}

// TestHasChanged verifies that each tracked field participates in change detection
func TestHasChanged(t *testing.T) {
	mutations := []struct {
		name   string
		mutate func(*JobRecord)
	}{
		{"title", func(j *JobRecord) { j.Title = "x" }},
		{"description", func(j *JobRecord) { j.Description = "x" }},
		{"company", func(j *JobRecord) { j.Company = "x" }},
		{"location", func(j *JobRecord) { j.Location = "x" }},
		{"category", func(j *JobRecord) { j.Category = "x" }},
		{"jobType", func(j *JobRecord) { j.JobType = "x" }},
		{"salary", func(j *JobRecord) { j.Salary = "x" }},
		{"url", func(j *JobRecord) { j.URL = "x" }},
		{"applyUrl", func(j *JobRecord) { j.ApplyURL = "x" }},
	}

	for _, m := range mutations {
		t.Run(m.name, func(t *testing.T) {
			existing := baseJob()
			incoming := baseJob()
			m.mutate(incoming)
			if !existing.HasChanged(incoming) {
				t.Errorf("Change in %s not detected", m.name)
			}
		})
	}
}

func TestHasChangedIdentical(t *testing.T) {
	existing := baseJob()
	incoming := baseJob()
	// Fields outside the tracked set must not count as changes
	incoming.UpdateCount = 7
	incoming.Source = "elsewhere"

	if existing.HasChanged(incoming) {
		t.Error("Identical tracked fields reported as changed")
	}
}

func TestApplyUpdate(t *testing.T) {
	firstImport := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	existing := baseJob()
	existing.FirstImportedAt = firstImport
	existing.UpdateCount = 2

	incoming := baseJob()
	incoming.Title = "Senior Backend Engineer"
	incoming.Salary = "$120,000"
	incoming.AdditionalData = JSONMap{"author": "Acme"}

	now := time.Date(2025, 8, 28, 12, 0, 0, 0, time.UTC)
	existing.ApplyUpdate(incoming, now)

	if existing.Title != "Senior Backend Engineer" {
		t.Errorf("Title not applied: %q", existing.Title)
	}
	if existing.Salary != "$120,000" {
		t.Errorf("Salary not applied: %q", existing.Salary)
	}
	if existing.UpdateCount != 3 {
		t.Errorf("UpdateCount = %d, want 3", existing.UpdateCount)
	}
	if !existing.LastUpdatedAt.Equal(now) {
		t.Errorf("LastUpdatedAt = %v, want %v", existing.LastUpdatedAt, now)
	}
	if !existing.FirstImportedAt.Equal(firstImport) {
		t.Error("FirstImportedAt must survive updates")
	}
	if existing.AdditionalData["author"] != "Acme" {
		t.Error("AdditionalData not applied")
	}
}

func TestImportRunIsTerminal(t *testing.T) {
	cases := []struct {
		status RunStatus
		want   bool
	}{
		{RunStatusPending, false},
		{RunStatusProcessing, false},
		{RunStatusCompleted, true},
		{RunStatusFailed, true},
	}
	for _, tc := range cases {
		run := ImportRun{Status: tc.status}
		if got := run.IsTerminal(); got != tc.want {
			t.Errorf("IsTerminal(%s) = %v, want %v", tc.status, got, tc.want)
		}
	}
}
