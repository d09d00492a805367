package models

import "testing"

func TestJobStatus_Valid(t *testing.T) {
	tests := []struct {
		status JobStatus
		want   bool
	}{
		{StatusPending, true},
		{StatusProcessing, true},
		{StatusCompleted, true},
		{JobStatus("failed"), false},
		{JobStatus(""), false},
	}
	for _, tt := range tests {
		if got := tt.status.Valid(); got != tt.want {
			t.Errorf("%q.Valid() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestJob_ChatID(t *testing.T) {
	j := &Job{UserID: "551199999999"}
	if got := j.ChatID(); got != "551199999999@c.us" {
		t.Errorf("ChatID() = %q", got)
	}
}

func TestTranscriptionOptions_WithDefaults(t *testing.T) {
	got := TranscriptionOptions{}.WithDefaults()
	if got != DefaultTranscriptionOptions() {
		t.Errorf("empty options = %+v, want defaults", got)
	}

	got = TranscriptionOptions{Model: "medium", BeamSize: 2}.WithDefaults()
	if got.Model != "medium" || got.BeamSize != 2 || got.ChunkLength != 30 {
		t.Errorf("partial override = %+v", got)
	}
}
