package models

import "testing"

func TestTableNames(t *testing.T) {
	if (EpisodeRecord{}).TableName() != "episode_records" {
		t.Errorf("unexpected table name %s", EpisodeRecord{}.TableName())
	}
	if (ReleaseLog{}).TableName() != "release_logs" {
		t.Errorf("unexpected table name %s", ReleaseLog{}.TableName())
	}
}

func TestPosition(t *testing.T) {
	p := Position{Season: 1, Episode: 7}

	if p.String() != "S01E07" {
		t.Errorf("expected S01E07, got %s", p.String())
	}
	if next := p.Next(); next.Season != 1 || next.Episode != 8 {
		t.Errorf("expected S01E08, got %s", next)
	}
	if (Position{Season: 5, Episode: 188}).String() != "S05E188" {
		t.Error("expected three digit episode to be kept")
	}
}

func TestEpisodeRecordPosition(t *testing.T) {
	r := EpisodeRecord{Title: "Naruto", Season: 5, Episode: 188}
	if r.Position() != (Position{Season: 5, Episode: 188}) {
		t.Errorf("unexpected position %v", r.Position())
	}
}

func TestReleaseStatusConstants(t *testing.T) {
	tests := map[ReleaseStatus]string{
		ReleaseStatusRunning:   "running",
		ReleaseStatusFinalized: "finalized",
		ReleaseStatusAborted:   "aborted",
	}
	for status, want := range tests {
		if string(status) != want {
			t.Errorf("expected %s, got %s", want, status)
		}
	}
}
