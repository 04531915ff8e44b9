package resolver

import "testing"

func TestNormalizePath(t *testing.T) {
	cases := []struct {
		in        string
		dirIntent bool
		want      string
		wantErr   bool
	}{
		{"", false, "/", false},
		{"/docs//report.pdf", false, "/docs/report.pdf", false},
		{"docs/./report.pdf", false, "/docs/report.pdf", false},
		{"/docs/", true, "/docs/", false},
		{"/docs", true, "/docs/", false},
		{"/docs/../etc/passwd", false, "", true},
		{"/", false, "/", false},
		{"/docs/\x00report.pdf", false, "", true},
	}

	for _, c := range cases {
		got, err := NormalizePath(c.in, c.dirIntent)
		if c.wantErr {
			if err == nil {
				t.Errorf("NormalizePath(%q): expected error, got %q", c.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("NormalizePath(%q): unexpected error %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("NormalizePath(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestSplitMount(t *testing.T) {
	cases := []struct {
		mountPath, p, want string
	}{
		{"/", "/docs/report.pdf", "/docs/report.pdf"},
		{"/docs", "/docs/report.pdf", "/report.pdf"},
		{"/docs", "/docs", "/"},
	}
	for _, c := range cases {
		if got := SplitMount(c.mountPath, c.p); got != c.want {
			t.Errorf("SplitMount(%q,%q) = %q, want %q", c.mountPath, c.p, got, c.want)
		}
	}
}

func TestIsUnderBase(t *testing.T) {
	if !IsUnderBase("/docs", "/docs/report.pdf") {
		t.Error("expected /docs/report.pdf to be under /docs")
	}
	if !IsUnderBase("/docs", "/docs") {
		t.Error("base itself should count as under base")
	}
	if IsUnderBase("/docs", "/other/file.txt") {
		t.Error("expected /other/file.txt to not be under /docs")
	}
	if !IsUnderBase("", "/anything") {
		t.Error("empty base means unrestricted")
	}
}
