package permission

import "testing"

func TestProbe(t *testing.T) {
	tests := []struct {
		value string
		set   bool
		want  Status
	}{
		{"", false, StatusPromptRequired},
		{"granted", true, StatusGranted},
		{" YES ", true, StatusGranted},
		{"denied", true, StatusDenied},
		{"false", true, StatusDenied},
		{"ask", true, StatusPromptRequired},
		{"maybe", true, StatusUnknown},
	}

	for _, tt := range tests {
		lookup := func(key string) (string, bool) {
			if key != EnvCameraPermission {
				t.Errorf("Unexpected lookup of %s", key)
			}
			return tt.value, tt.set
		}
		got := Probe(lookup)
		if got.Status != tt.want {
			t.Errorf("Probe(%q) = %s, want %s", tt.value, got.Status, tt.want)
		}
		if got.Message == "" {
			t.Errorf("Probe(%q) returned no message", tt.value)
		}
	}
}
