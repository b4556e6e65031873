package version

import "testing"

func TestIsReleaseSemver(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"v1.2.3", true},
		{" v0.4.0 ", true},
		{"1.2.3", false},
		{"v1.2", false},
		{"v1.2.3-rc.1", false},
		{"v1.2.3+meta", false},
		{"dev", false},
	}
	for _, tt := range tests {
		if got := IsReleaseSemver(tt.in); got != tt.want {
			t.Errorf("IsReleaseSemver(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSameRelease(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"v1.2.3", "v1.2.3", true},
		{"1.2.3", "v1.2.3", true},
		{"v1.2.3", "v1.2.4", false},
		{"", "v1.2.3", false},
		{"dev", "dev", false},
	}
	for _, tt := range tests {
		if got := SameRelease(tt.a, tt.b); got != tt.want {
			t.Errorf("SameRelease(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestString(t *testing.T) {
	if got, want := String(), "dev (unknown) built unknown"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
