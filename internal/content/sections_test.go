package content

import "testing"

func TestNormalizeKind(t *testing.T) {
	tests := []struct {
		input string
		want  Kind
	}{
		{"hero", KindHero},
		{"seo", KindSEO},
		{"", KindCustom},
		{"newsletter", KindCustom},
	}
	for _, tt := range tests {
		if got := NormalizeKind(tt.input); got != tt.want {
			t.Errorf("NormalizeKind(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestMergeOverrideWins(t *testing.T) {
	defaults := Fields{"a": "1", "b": "2"}
	override := Fields{"b": "3", "c": "4"}
	merged := Merge(defaults, override)

	if merged["a"] != "1" || merged["b"] != "3" || merged["c"] != "4" {
		t.Errorf("Merge() = %v", merged)
	}
	if defaults["b"] != "2" {
		t.Errorf("Merge() mutated defaults: %v", defaults)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	original := Fields{"a": "1"}
	copied := original.Clone()
	copied["a"] = "changed"
	if original["a"] != "1" {
		t.Errorf("Clone() shares storage: %v", original)
	}

	var nilFields Fields
	if cloned := nilFields.Clone(); cloned == nil || len(cloned) != 0 {
		t.Errorf("Clone() of nil = %v", cloned)
	}
}
