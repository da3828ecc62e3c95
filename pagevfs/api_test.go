package pagevfs

import "testing"

func TestFileIdentity_NumPages(t *testing.T) {
	tests := []struct {
		name     string
		size     int64
		pageSize int
		want     int64
	}{
		{"empty file", 0, 4096, 0},
		{"one byte", 1, 4096, 1},
		{"exact page", 4096, 4096, 1},
		{"page plus one", 4097, 4096, 2},
		{"short tail", 10000, 4096, 3},
		{"exact multiple", 8192, 4096, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := FileIdentity{Path: "editions/chunk_1.db", Size: tt.size, PageSize: tt.pageSize}
			if got := id.NumPages(); got != tt.want {
				t.Errorf("NumPages() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestFileIdentity_Key_DisambiguatesRevisions(t *testing.T) {
	a := FileIdentity{Path: "editions/chunk_1.db", Size: 100, ETag: `"r1"`, PageSize: 4096}
	b := a
	b.ETag = `"r2"`
	c := a
	c.Size = 200

	if a.Key() != a.Key() {
		t.Fatal("Key must be deterministic")
	}
	if a.Key() == b.Key() {
		t.Error("identities with different tokens must have different keys")
	}
	if a.Key() == c.Key() {
		t.Error("identities with different sizes must have different keys")
	}
}
