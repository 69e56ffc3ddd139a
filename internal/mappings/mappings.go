// Package mappings implements the MappingsIndex: a local SQLite-backed
// search-term -> key index plus the cart/favorites tables spec.md §6 lists
// alongside it. Grounded on the embedded-sqlite3 pattern shared by the
// pack's storj/Chartly/klingdex manifests: a single *sql.DB opened with
// WAL journaling, schema created with CREATE TABLE IF NOT EXISTS, and a
// narrow Go API wrapping plain SQL rather than an ORM.
package mappings

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"neromon/internal/codec"
)

// Mapping is a row of the local search index (spec 3 "Mapping").
type Mapping struct {
	SearchTerm string
	Key        string
	Tag        codec.Tag
}

// CartItem is one listing key held in a user's cart.
type CartItem struct {
	ListingKey string `json:"listing_key"`
	Quantity   int    `json:"quantity"`
}

// Index wraps the daemon's local data.sqlite3 database.
type Index struct {
	db *sql.DB
}

// Open creates or attaches to the sqlite3 database at path and ensures the
// schema exists (spec 6 "data.sqlite3").
func Open(path string) (*Index, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("mappings: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("mappings: ping database: %w", err)
	}
	// sqlite3 tolerates only one writer; a single connection avoids
	// SQLITE_BUSY under the daemon's bounded worker pool.
	db.SetMaxOpenConns(1)

	idx := &Index{db: db}
	if err := idx.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *Index) Close() error { return idx.db.Close() }

const schema = `
CREATE TABLE IF NOT EXISTS mappings (
	search_term TEXT NOT NULL,
	key         TEXT NOT NULL,
	content     TEXT NOT NULL,
	UNIQUE(search_term, key, content)
);
CREATE INDEX IF NOT EXISTS idx_mappings_term ON mappings(search_term);
CREATE INDEX IF NOT EXISTS idx_mappings_key ON mappings(key);

CREATE VIRTUAL TABLE IF NOT EXISTS mappings_fts USING fts5(
	search_term, key UNINDEXED, content UNINDEXED
);

CREATE TABLE IF NOT EXISTS cart (
	uuid    TEXT PRIMARY KEY,
	user_id TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cart_user ON cart(user_id);

CREATE TABLE IF NOT EXISTS cart_item (
	cart_uuid   TEXT NOT NULL,
	listing_key TEXT NOT NULL,
	quantity    INTEGER NOT NULL DEFAULT 1,
	UNIQUE(cart_uuid, listing_key),
	FOREIGN KEY (cart_uuid) REFERENCES cart(uuid)
);

CREATE TABLE IF NOT EXISTS favorites (
	user_id     TEXT NOT NULL,
	listing_key TEXT NOT NULL,
	UNIQUE(user_id, listing_key)
);
`

func (idx *Index) initSchema() error {
	if _, err := idx.db.Exec(schema); err != nil {
		return fmt.Errorf("mappings: init schema: %w", err)
	}
	return nil
}

// Map inserts a (search_term, key, tag) row, matching spec 4.7's
// map(search_term, key, content) bridge method. Duplicate triples are
// silently ignored (the table's UNIQUE constraint is the de-dup key).
func (idx *Index) Map(searchTerm, key string, tag codec.Tag) error {
	res, err := idx.db.Exec(
		`INSERT OR IGNORE INTO mappings(search_term, key, content) VALUES (?, ?, ?)`,
		searchTerm, key, string(tag),
	)
	if err != nil {
		return fmt.Errorf("mappings: insert mapping: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return err
	}
	_, err = idx.db.Exec(
		`INSERT INTO mappings_fts(search_term, key, content) VALUES (?, ?, ?)`,
		searchTerm, key, string(tag),
	)
	if err != nil {
		return fmt.Errorf("mappings: index mapping for search: %w", err)
	}
	return nil
}

// Lookup returns every key mapped under searchTerm (spec 8 scenario 5).
func (idx *Index) Lookup(searchTerm string) ([]Mapping, error) {
	rows, err := idx.db.Query(
		`SELECT search_term, key, content FROM mappings WHERE search_term = ?`, searchTerm)
	if err != nil {
		return nil, fmt.Errorf("mappings: lookup: %w", err)
	}
	defer rows.Close()

	var out []Mapping
	for rows.Next() {
		var m Mapping
		var tag string
		if err := rows.Scan(&m.SearchTerm, &m.Key, &tag); err != nil {
			return nil, fmt.Errorf("mappings: scan row: %w", err)
		}
		m.Tag = codec.Tag(tag)
		out = append(out, m)
	}
	return out, rows.Err()
}

// Search performs a full-text MATCH query against the FTS5 companion table.
// It has no fallback to the plain mappings table; Open already fails when
// FTS5 is unavailable, since the schema creates the FTS5 table.
func (idx *Index) Search(query string) ([]Mapping, error) {
	rows, err := idx.db.Query(`
		SELECT search_term, key, content
		FROM mappings_fts
		WHERE search_term MATCH ?`, query)
	if err != nil {
		return nil, fmt.Errorf("mappings: search: %w", err)
	}
	defer rows.Close()

	var out []Mapping
	for rows.Next() {
		var m Mapping
		var tag string
		if err := rows.Scan(&m.SearchTerm, &m.Key, &tag); err != nil {
			return nil, fmt.Errorf("mappings: scan search row: %w", err)
		}
		m.Tag = codec.Tag(tag)
		out = append(out, m)
	}
	return out, rows.Err()
}

// PruneMissing removes every mapping row referencing key, called by the
// bridge's get handler when the Node's lookup for key ends without a hit
// (spec 3 "Lifecycle": mappings die "when the referenced key is proven
// absent from the DHT after a successful negative lookup").
func (idx *Index) PruneMissing(key string) error {
	if _, err := idx.db.Exec(`DELETE FROM mappings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("mappings: prune missing key: %w", err)
	}
	if _, err := idx.db.Exec(`DELETE FROM mappings_fts WHERE key = ?`, key); err != nil {
		return fmt.Errorf("mappings: prune missing key from search index: %w", err)
	}
	return nil
}

// AddToCart appends or increments a listing in a user's cart, creating the
// cart row on first use.
func (idx *Index) AddToCart(userID, listingKey string, quantity int) (string, error) {
	cartUUID, err := idx.ensureCart(userID)
	if err != nil {
		return "", err
	}
	_, err = idx.db.Exec(`
		INSERT INTO cart_item(cart_uuid, listing_key, quantity) VALUES (?, ?, ?)
		ON CONFLICT(cart_uuid, listing_key) DO UPDATE SET quantity = quantity + excluded.quantity`,
		cartUUID, listingKey, quantity)
	if err != nil {
		return "", fmt.Errorf("mappings: add to cart: %w", err)
	}
	return cartUUID, nil
}

// RemoveFromCart deletes a listing from a user's cart.
func (idx *Index) RemoveFromCart(userID, listingKey string) error {
	cartUUID, ok, err := idx.lookupCart(userID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if _, err := idx.db.Exec(`DELETE FROM cart_item WHERE cart_uuid = ? AND listing_key = ?`, cartUUID, listingKey); err != nil {
		return fmt.Errorf("mappings: remove from cart: %w", err)
	}
	return nil
}

// ListCart returns every item in a user's cart.
func (idx *Index) ListCart(userID string) ([]CartItem, error) {
	cartUUID, ok, err := idx.lookupCart(userID)
	if err != nil || !ok {
		return nil, err
	}
	rows, err := idx.db.Query(`SELECT listing_key, quantity FROM cart_item WHERE cart_uuid = ?`, cartUUID)
	if err != nil {
		return nil, fmt.Errorf("mappings: list cart: %w", err)
	}
	defer rows.Close()

	var out []CartItem
	for rows.Next() {
		var item CartItem
		if err := rows.Scan(&item.ListingKey, &item.Quantity); err != nil {
			return nil, fmt.Errorf("mappings: scan cart row: %w", err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (idx *Index) ensureCart(userID string) (string, error) {
	if cartUUID, ok, err := idx.lookupCart(userID); err != nil {
		return "", err
	} else if ok {
		return cartUUID, nil
	}
	cartUUID := uuid.NewString()
	if _, err := idx.db.Exec(`INSERT INTO cart(uuid, user_id) VALUES (?, ?)`, cartUUID, userID); err != nil {
		return "", fmt.Errorf("mappings: create cart: %w", err)
	}
	return cartUUID, nil
}

func (idx *Index) lookupCart(userID string) (string, bool, error) {
	var cartUUID string
	err := idx.db.QueryRow(`SELECT uuid FROM cart WHERE user_id = ? LIMIT 1`, userID).Scan(&cartUUID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("mappings: lookup cart: %w", err)
	}
	return cartUUID, true, nil
}

// Favorite marks a listing as favorited by a user.
func (idx *Index) Favorite(userID, listingKey string) error {
	_, err := idx.db.Exec(`INSERT OR IGNORE INTO favorites(user_id, listing_key) VALUES (?, ?)`, userID, listingKey)
	if err != nil {
		return fmt.Errorf("mappings: favorite: %w", err)
	}
	return nil
}

// Unfavorite removes a user's favorite.
func (idx *Index) Unfavorite(userID, listingKey string) error {
	_, err := idx.db.Exec(`DELETE FROM favorites WHERE user_id = ? AND listing_key = ?`, userID, listingKey)
	if err != nil {
		return fmt.Errorf("mappings: unfavorite: %w", err)
	}
	return nil
}

// ListFavorites returns every listing key a user has favorited.
func (idx *Index) ListFavorites(userID string) ([]string, error) {
	rows, err := idx.db.Query(`SELECT listing_key FROM favorites WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("mappings: list favorites: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("mappings: scan favorite row: %w", err)
		}
		out = append(out, key)
	}
	return out, rows.Err()
}
