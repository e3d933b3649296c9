package utils

import (
	"strings"
	"testing"
)

func TestGenerateRunID(t *testing.T) {
	id1 := GenerateRunID()
	id2 := GenerateRunID()

	if id1 == "" {
		t.Error("GenerateRunID returned empty string")
	}

	if id1 == id2 {
		t.Error("GenerateRunID should return unique IDs")
	}

	if !strings.HasPrefix(id1, "run-") {
		t.Errorf("GenerateRunID should start with 'run-': %s", id1)
	}
}

func TestTrialDirName(t *testing.T) {
	tests := []struct {
		index int
		want  string
	}{
		{0, "trial-0000"},
		{3, "trial-0003"},
		{125, "trial-0125"},
		{12345, "trial-12345"},
	}

	for _, tt := range tests {
		if got := TrialDirName(tt.index); got != tt.want {
			t.Errorf("TrialDirName(%d) = %s, want %s", tt.index, got, tt.want)
		}
	}
}
