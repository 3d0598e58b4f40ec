package gateway

import "testing"

func TestFilterAdmit(t *testing.T) {
	cases := []struct {
		name  string
		allow []string
		deny  []string
		id    string
		want  bool
	}{
		{"no patterns admits", nil, nil, "room-1", true},
		{"allow match", []string{"team-*"}, nil, "team-qa", true},
		{"allow miss", []string{"team-*"}, nil, "room-1", false},
		{"deny match", nil, []string{"*-test"}, "room-test", false},
		{"deny wins over allow", []string{"room-*"}, []string{"room-13"}, "room-13", false},
		{"empty allow admits rest", nil, []string{"spam"}, "room-1", true},
		{"exact allow", []string{"room-1", "room-2"}, nil, "room-2", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := NewFilter(tc.allow, tc.deny)
			if got := f.Admit(tc.id); got != tc.want {
				t.Errorf("Admit(%q) = %v, want %v", tc.id, got, tc.want)
			}
		})
	}
}

func TestNilFilterAdmitsAll(t *testing.T) {
	var f *Filter
	if !f.Admit("anything") {
		t.Error("nil filter should admit everything")
	}
}
