package mappings

import (
	"path/filepath"
	"testing"

	"neromon/internal/codec"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	dir := t.TempDir()
	idx, err := Open(filepath.Join(dir, "data.sqlite3"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestMapAndLookup(t *testing.T) {
	idx := openTestIndex(t)
	if err := idx.Map("wownero", "k1", codec.TagListing); err != nil {
		t.Fatalf("Map: %v", err)
	}

	rows, err := idx.Lookup("wownero")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(rows) != 1 || rows[0].Key != "k1" || rows[0].Tag != codec.TagListing {
		t.Fatalf("unexpected lookup result: %+v", rows)
	}
}

func TestMapIsIdempotent(t *testing.T) {
	idx := openTestIndex(t)
	for i := 0; i < 3; i++ {
		if err := idx.Map("wownero", "k1", codec.TagListing); err != nil {
			t.Fatalf("Map iteration %d: %v", i, err)
		}
	}
	rows, err := idx.Lookup("wownero")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected a single deduped row, got %d", len(rows))
	}
}

func TestSearchMatchesIndexedTerm(t *testing.T) {
	idx := openTestIndex(t)
	if err := idx.Map("wownero coin", "k1", codec.TagListing); err != nil {
		t.Fatalf("Map: %v", err)
	}
	if err := idx.Map("other thing", "k2", codec.TagListing); err != nil {
		t.Fatalf("Map: %v", err)
	}

	rows, err := idx.Search("wownero")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(rows) != 1 || rows[0].Key != "k1" {
		t.Fatalf("unexpected search result: %+v", rows)
	}
}

func TestPruneMissingRemovesMapping(t *testing.T) {
	idx := openTestIndex(t)
	_ = idx.Map("wownero", "k1", codec.TagListing)

	if err := idx.PruneMissing("k1"); err != nil {
		t.Fatalf("PruneMissing: %v", err)
	}
	rows, err := idx.Lookup("wownero")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected mapping purged after negative lookup, got %+v", rows)
	}
}

func TestCartAddRemoveList(t *testing.T) {
	idx := openTestIndex(t)
	if _, err := idx.AddToCart("alice", "listing-1", 2); err != nil {
		t.Fatalf("AddToCart: %v", err)
	}
	if _, err := idx.AddToCart("alice", "listing-1", 1); err != nil {
		t.Fatalf("AddToCart (increment): %v", err)
	}

	items, err := idx.ListCart("alice")
	if err != nil {
		t.Fatalf("ListCart: %v", err)
	}
	if len(items) != 1 || items[0].Quantity != 3 {
		t.Fatalf("expected one item with quantity 3, got %+v", items)
	}

	if err := idx.RemoveFromCart("alice", "listing-1"); err != nil {
		t.Fatalf("RemoveFromCart: %v", err)
	}
	items, err = idx.ListCart("alice")
	if err != nil {
		t.Fatalf("ListCart after remove: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected empty cart after removal, got %+v", items)
	}
}

func TestFavoriteUnfavorite(t *testing.T) {
	idx := openTestIndex(t)
	if err := idx.Favorite("alice", "listing-1"); err != nil {
		t.Fatalf("Favorite: %v", err)
	}
	favs, err := idx.ListFavorites("alice")
	if err != nil {
		t.Fatalf("ListFavorites: %v", err)
	}
	if len(favs) != 1 || favs[0] != "listing-1" {
		t.Fatalf("unexpected favorites: %+v", favs)
	}

	if err := idx.Unfavorite("alice", "listing-1"); err != nil {
		t.Fatalf("Unfavorite: %v", err)
	}
	favs, err = idx.ListFavorites("alice")
	if err != nil {
		t.Fatalf("ListFavorites after unfavorite: %v", err)
	}
	if len(favs) != 0 {
		t.Fatalf("expected no favorites after unfavorite, got %+v", favs)
	}
}
