/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package catalog holds the fixed, ordered deck that draws are made from,
// along with the lookup between card names and their asset identifiers.
package catalog

import "fmt"

// Entry is a single drawable item. It is a value type; the deck is never
// mutated once built.
type Entry struct {
	// Name is the display name, e.g. "The Fool" or "Ace of Cups".
	Name string `json:"name"`

	// AssetID identifies the card's artwork, e.g. "m00" or "c01".
	AssetID string `json:"assetId"`
}

var majors = []string{
	"The Fool",
	"The Magician",
	"The High Priestess",
	"The Empress",
	"The Emperor",
	"The Hierophant",
	"The Lovers",
	"The Chariot",
	"Strength",
	"The Hermit",
	"Wheel of Fortune",
	"Justice",
	"The Hanged Man",
	"Death",
	"Temperance",
	"The Devil",
	"The Tower",
	"The Star",
	"The Moon",
	"The Sun",
	"Judgement",
	"The World",
}

// suits are listed in deck order; the letter prefixes the minor asset ids.
var suits = []struct {
	name   string
	letter string
}{
	{"Wands", "w"},
	{"Cups", "c"},
	{"Swords", "s"},
	{"Pentacles", "p"},
}

// ranks are listed in deck order; the 1-based index is the rank code.
var ranks = []string{
	"Ace", "Two", "Three", "Four", "Five", "Six", "Seven",
	"Eight", "Nine", "Ten", "Page", "Knight", "Queen", "King",
}

// deck is built once at start-up and only ever handed out as a copy.
var deck = build()

func build() []Entry {
	out := make([]Entry, 0, len(majors)+len(suits)*len(ranks))
	for i, name := range majors {
		out = append(out, Entry{Name: name, AssetID: fmt.Sprintf("m%02d", i)})
	}
	for _, s := range suits {
		for i, r := range ranks {
			out = append(out, Entry{
				Name:    fmt.Sprintf("%s of %s", r, s.name),
				AssetID: fmt.Sprintf("%s%02d", s.letter, i+1),
			})
		}
	}
	return out
}

// Deck returns a copy of the full catalog in its canonical order: the 22
// major arcana followed by Wands, Cups, Swords and Pentacles, each from Ace
// to King. The order is load-bearing for reproducible draws.
func Deck() []Entry {
	out := make([]Entry, len(deck))
	copy(out, deck)
	return out
}

// Size is the number of entries in the deck.
func Size() int { return len(deck) }
