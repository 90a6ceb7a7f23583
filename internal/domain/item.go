package domain

import "time"

// Item is one post fetched from the content source. Never persisted.
type Item struct {
	ID       string
	Title    string
	Body     string
	Excerpts []Excerpt
}

// Excerpt is a top-level comment attached to an item.
type Excerpt struct {
	Author string
	Body   string
	Score  int
}

// TranslatedItem mirrors Item with translated title, body and excerpt bodies.
// Excerpt authors are carried over untouched.
type TranslatedItem struct {
	ID       string
	Title    string
	Body     string
	Excerpts []Excerpt
}

// PublishedRecord marks an item that went through publish and notify.
type PublishedRecord struct {
	ItemID      string
	PublishedAt time.Time
}
