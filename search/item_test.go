package search

import "testing"

func TestRawItem_LastModified(t *testing.T) {
	tests := []struct {
		name string
		repo Repository
		want string
	}{
		{"pushed only", Repository{PushedAt: "2024-03-01T10:00:00Z"}, "2024-03-01 10:00:00 UTC"},
		{"latest wins", Repository{PushedAt: "2023-01-01T00:00:00Z", UpdatedAt: "2024-06-01T12:30:00Z", CreatedAt: "2020-01-01T00:00:00Z"}, "2024-06-01 12:30:00 UTC"},
		{"created fallback", Repository{CreatedAt: "2019-05-05T05:05:05Z"}, "2019-05-05 05:05:05 UTC"},
		{"unparseable skipped", Repository{PushedAt: "yesterday", CreatedAt: "2019-05-05T05:05:05Z"}, "2019-05-05 05:05:05 UTC"},
		{"none", Repository{}, NotAvailable},
		{"all unparseable", Repository{PushedAt: "soon"}, NotAvailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it := RawItem{Repository: tt.repo}
			if got := it.LastModified(); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestRawItem_Match(t *testing.T) {
	it := RawItem{
		Path:       "a.py",
		HTMLURL:    "https://github.com/org/repo/blob/main/a.py",
		Repository: Repository{FullName: "org/repo"},
		TextMatches: []TextMatch{
			{Fragment: "first"},
			{Fragment: "second"},
		},
	}

	m := it.Match()
	if m.Repository != "org/repo" || m.FilePath != "a.py" {
		t.Errorf("unexpected identity %q/%q", m.Repository, m.FilePath)
	}
	if m.LastModified != NotAvailable {
		t.Errorf("expected N/A, got %q", m.LastModified)
	}
	if len(m.Fragments) != 2 || m.Fragments[1] != "second" {
		t.Errorf("unexpected fragments %v", m.Fragments)
	}
	if it.Key() != (Key{Repository: "org/repo", Path: "a.py"}) {
		t.Errorf("unexpected key %+v", it.Key())
	}
}
