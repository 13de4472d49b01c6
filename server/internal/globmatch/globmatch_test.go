package globmatch

import "testing"

func TestMatch(t *testing.T) {
	cases := []struct {
		s, pattern string
		want       bool
	}{
		{"", "*", true},
		{"x", "?", true},
		{"xt", "?", false},
		{"glob.check.service", "*.ch??k.*", true},
		{"glob.check.service", "*.ch?k.*", false},
		{"app-foo.service", "app-*.service", true},
		{"app.service", "app-*.service", false},
		{"", "", true},
		{"a", "", false},
	}

	for _, c := range cases {
		if got := Match(c.s, c.pattern); got != c.want {
			t.Errorf("Match(%q, %q) = %v, want %v", c.s, c.pattern, got, c.want)
		}
	}
}
