package cdx

import "testing"

func TestCanonicalize(t *testing.T) {
	var table = []struct {
		in, out string
	}{
		{"http://example.org/", "org,example)/"},
		{"http://www.example.org/", "org,example)/"},
		{"http://WWW2.Example.ORG/Page", "org,example)/page"},
		{"https://example.org/", "org,example)/"},
		{"http://example.org", "org,example)/"},
		{"example.org/foo", "org,example)/foo"},
		{"http://example.org:8080/", "org,example:8080)/"},
		{"http://example.org:80/", "org,example)/"},
		{"https://example.org:443/", "org,example)/"},
		{"http://sub.example.org/", "org,example,sub)/"},
		{"http://example.org/a?b=2&a=1", "org,example)/a?a=1&b=2"},
		{"http://example.org/a#frag", "org,example)/a"},
		{"http://example.org./", "org,example)/"},
		{"", ""},
	}
	for _, test := range table {
		got := Canonicalize(test.in)
		if got != test.out {
			t.Errorf("Canonicalize(%q) = %q, expected %q", test.in, got, test.out)
		}
	}
}

func TestCanonicalizeIdempotent(t *testing.T) {
	var inputs = []string{
		"http://example.org/",
		"http://www.example.org/search?q=x&p=1",
		"http://example.org:8080/path",
		"org,example)/already",
		"not a url at all",
	}
	for _, in := range inputs {
		once := Canonicalize(in)
		twice := Canonicalize(once)
		if once != twice {
			t.Errorf("Canonicalize(%q): %q then %q, expected fixed point", in, once, twice)
		}
	}
}
