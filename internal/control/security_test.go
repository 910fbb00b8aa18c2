package control

import "testing"

func TestValidateFilename(t *testing.T) {
	cases := []struct {
		name    string
		wantErr bool
	}{
		{"print1_01.mp4", false},
		{"", true},
		{"../etc/passwd", true},
		{"foo/bar.mp4", true},
		{"foo; rm -rf /", true},
		{"foo$(whoami).mp4", true},
	}
	for _, c := range cases {
		err := validateFilename(c.name)
		if (err != nil) != c.wantErr {
			t.Errorf("validateFilename(%q): err=%v, wantErr=%v", c.name, err, c.wantErr)
		}
	}
}

func TestResolveUnderPrefix(t *testing.T) {
	prefix := t.TempDir()

	if _, err := resolveUnderPrefix(prefix, "../../etc"); err == nil {
		t.Fatalf("expected traversal to be rejected")
	}
	if _, err := resolveUnderPrefix("", "subdir"); err == nil {
		t.Fatalf("expected empty prefix to be rejected")
	}
	got, err := resolveUnderPrefix(prefix, "subdir/nested")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := prefix + "/subdir/nested"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
