package util

import (
	"reflect"
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"", true, true},
		{"yes", false, true},
		{"OFF", true, false},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Setenv("DESKPIPE_TEST_BOOL", tt.value)
		if got := ParseBoolEnv("DESKPIPE_TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
		}
	}
}

func TestParseDurationEnv(t *testing.T) {
	t.Setenv("DESKPIPE_TEST_DUR", "45s")
	if got := ParseDurationEnv("DESKPIPE_TEST_DUR", time.Second); got != 45*time.Second {
		t.Errorf("got %v, want 45s", got)
	}
	t.Setenv("DESKPIPE_TEST_DUR", "-3s")
	if got := ParseDurationEnv("DESKPIPE_TEST_DUR", 20*time.Second); got != 20*time.Second {
		t.Errorf("negative value: got %v, want default", got)
	}
	t.Setenv("DESKPIPE_TEST_DUR", "0s")
	if got := ParseDurationEnv("DESKPIPE_TEST_DUR", 5*time.Second); got != 0 {
		t.Errorf("zero value: got %v, want 0", got)
	}
	t.Setenv("DESKPIPE_TEST_DUR", "soon")
	if got := ParseDurationEnv("DESKPIPE_TEST_DUR", 20*time.Second); got != 20*time.Second {
		t.Errorf("invalid value: got %v, want default", got)
	}
}

func TestSplitList(t *testing.T) {
	got := SplitList(" 5511999999999, Suporte TI ,,  ")
	want := []string{"5511999999999", "Suporte TI"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SplitList() = %v, want %v", got, want)
	}
	if SplitList("") != nil {
		t.Error("expected nil for empty input")
	}
}
