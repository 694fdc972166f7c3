package agent

import "testing"

func TestParseTestOutput(t *testing.T) {
	tests := []struct {
		name      string
		output    string
		succeeded bool
		want      TestStatus
	}{
		{
			name:      "pytest collected nothing",
			output:    "============ no tests ran in 0.01s ============\ncollected 0 items",
			succeeded: true,
			want:      TestNone,
		},
		{
			name:      "go test no test files",
			output:    "?   \tgithub.com/acme/widget\t[no test files]",
			succeeded: true,
			want:      TestNone,
		},
		{
			name:      "go test filtered everything out",
			output:    "ok  \tgithub.com/acme/widget\t0.002s [no tests to run]",
			succeeded: true,
			want:      TestNone,
		},
		{
			name:      "jest found nothing",
			output:    "No tests found, exiting with code 0",
			succeeded: true,
			want:      TestNone,
		},
		{
			name:      "zero counts",
			output:    "Tests: 0 passed, 0 failed, 0 total",
			succeeded: true,
			want:      TestNone,
		},
		{
			name:      "pytest pass",
			output:    "collected 14 items\n\n============ 14 passed in 0.31s ============",
			succeeded: true,
			want:      TestPassed,
		},
		{
			name:      "pytest failure",
			output:    "collected 14 items\n\nFAILED tests/test_api.py::test_create\n1 failed, 13 passed",
			succeeded: false,
			want:      TestFailed,
		},
		{
			name:      "empty output clean exit",
			output:    "",
			succeeded: true,
			want:      TestPassed,
		},
		{
			name:      "empty output bad exit",
			output:    "",
			succeeded: false,
			want:      TestFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseTestOutput(tt.output, tt.succeeded); got != tt.want {
				t.Errorf("ParseTestOutput(%q, %v) = %q, want %q", tt.output, tt.succeeded, got, tt.want)
			}
		})
	}
}

func TestClampConfidence(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{-0.3, 0},
		{0, 0},
		{0.42, 0.42},
		{1, 1},
		{1.8, 1},
	}
	for _, tt := range tests {
		if got := clampConfidence(tt.in); got != tt.want {
			t.Errorf("clampConfidence(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestOutcomeFailed(t *testing.T) {
	ok := Outcome{Status: StatusOK}
	if ok.Failed() {
		t.Error("StatusOK reported as failed")
	}
	bad := Outcome{Status: StatusFailed}
	if !bad.Failed() {
		t.Error("StatusFailed not reported as failed")
	}
}
