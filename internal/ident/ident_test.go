package ident

import (
	"strings"
	"testing"
)

func TestNewLocalUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewLocal()
		if !strings.HasPrefix(id, LocalPrefix) {
			t.Fatalf("id %q missing prefix %q", id, LocalPrefix)
		}
		if seen[id] {
			t.Fatalf("duplicate local id %q", id)
		}
		seen[id] = true
	}
}

func TestKeyPrefersServer(t *testing.T) {
	id := ID{Local: "loc-1", Server: "srv-1"}
	if id.Key() != "srv-1" {
		t.Errorf("Key() = %q, want srv-1", id.Key())
	}
	if (ID{Local: "loc-1"}).Key() != "loc-1" {
		t.Error("Key() should fall back to local id")
	}
}

func TestMatches(t *testing.T) {
	cases := []struct {
		name string
		a, b ID
		want bool
	}{
		{"both local equal", ID{Local: "l1"}, ID{Local: "l1", Server: "s1"}, true},
		{"local wins over server", ID{Local: "l1", Server: "s1"}, ID{Local: "l2", Server: "s1"}, false},
		{"server fallback", ID{Server: "s1"}, ID{Local: "l9", Server: "s1"}, true},
		{"disjoint halves", ID{Local: "l1"}, ID{Server: "s1"}, false},
		{"zero never matches", ID{}, ID{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.a.Matches(tc.b); got != tc.want {
				t.Errorf("Matches(%+v, %+v) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func TestMergeKeepsLocal(t *testing.T) {
	provisional := ID{Local: "l1"}
	confirmed := ID{Server: "s1"}

	got := provisional.Merge(confirmed)
	if got.Local != "l1" || got.Server != "s1" {
		t.Errorf("Merge = %+v, want local l1 server s1", got)
	}
	if !got.Confirmed() {
		t.Error("merged id should be confirmed")
	}
}
