package nftsetup

import "testing"

func TestTableName(t *testing.T) {
	cases := []struct {
		id   string
		want string
	}{
		{"12345", "redsocks_12345"},
		{"", "redsocks_"},
	}
	for _, c := range cases {
		t.Run(c.id, func(t *testing.T) {
			if got := TableName(c.id); got != c.want {
				t.Errorf("TableName(%q) = %q, want %q", c.id, got, c.want)
			}
		})
	}
}
