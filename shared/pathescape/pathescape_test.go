package pathescape

import "testing"

func TestEscape(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", "_"},
		{"a", "a"},
		{"1x", "_31x"},
		{"a.b", "a_2eb"},
	}

	for _, c := range cases {
		if got := Escape(c.in); got != c.want {
			t.Errorf("Escape(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestEscapeCharset(t *testing.T) {
	for _, s := range []string{"", "a", "1x", "a.b", "node-01.example.com", "日本語"} {
		out := Escape(s)
		for i := 0; i < len(out); i++ {
			c := out[i]
			safe := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_'
			if !safe {
				t.Fatalf("Escape(%q) = %q contains unsafe byte %q", s, out, c)
			}
		}
	}
}

func TestEscapeInjective(t *testing.T) {
	inputs := []string{"a", "b", "a.b", "a_2eb", "1x", "x1", "", "_"}
	seen := make(map[string]string)
	for _, in := range inputs {
		out := Escape(in)
		if prev, ok := seen[out]; ok && prev != in {
			t.Fatalf("collision: Escape(%q) == Escape(%q) == %q", prev, in, out)
		}
		seen[out] = in
	}
}
