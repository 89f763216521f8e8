package mahjong

import (
	"errors"
	"testing"

	"github.com/JackieWYB/majiang-sub003/common/config"
)

func mustTile(t *testing.T, s string) Tile {
	t.Helper()
	tile, err := ParseTile(s)
	if err != nil {
		t.Fatalf("ParseTile(%q) err: %v", s, err)
	}
	return tile
}

func handOf(t *testing.T, tiles ...string) Hand27 {
	t.Helper()
	var h Hand27
	for _, s := range tiles {
		h.Add(mustTile(t, s))
	}
	return h
}

func TestParseTile_RoundTrip(t *testing.T) {
	cases := []string{"1W", "9W", "5T", "3D"}
	for _, s := range cases {
		tile := mustTile(t, s)
		if tile.String() != s {
			t.Fatalf("round trip %q got %q", s, tile.String())
		}
		if TileFromIndex(tile.Index()) != tile {
			t.Fatalf("index round trip failed for %q", s)
		}
	}
	// lowercase suit is accepted, serialization is uppercase
	if mustTile(t, "5w").String() != "5W" {
		t.Fatalf("lowercase suit should normalize")
	}
}

func TestParseTile_Errors(t *testing.T) {
	if _, err := ParseTile("0W"); !errors.Is(err, ErrRankOutOfRange) {
		t.Fatalf("rank 0 expected ErrRankOutOfRange, got %v", err)
	}
	for _, s := range []string{"", "5", "5X", "55W", "W5"} {
		if _, err := ParseTile(s); err == nil {
			t.Fatalf("ParseTile(%q) expected error", s)
		}
	}
}

func TestBuildDeck_Sizes(t *testing.T) {
	wan := BuildDeck(config.TilesWanOnly)
	if len(wan) != 36 {
		t.Fatalf("WAN_ONLY deck expected 36, got %d", len(wan))
	}
	all := BuildDeck(config.TilesAll)
	if len(all) != 108 {
		t.Fatalf("ALL deck expected 108, got %d", len(all))
	}

	// four copies of each kind
	counts := Hand27FromTiles(all)
	for i := 0; i < 27; i++ {
		if counts[i] != 4 {
			t.Fatalf("kind %d expected 4 copies, got %d", i, counts[i])
		}
	}
}

func TestShuffle_Deterministic(t *testing.T) {
	a := BuildDeck(config.TilesAll)
	b := BuildDeck(config.TilesAll)
	Shuffle(a, 42)
	Shuffle(b, 42)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("same seed should give same order, diff at %d", i)
		}
	}

	c := BuildDeck(config.TilesAll)
	Shuffle(c, 43)
	same := true
	for i := range a {
		if a[i] != c[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatalf("different seeds should give different order")
	}
}

func TestCanFormSequence(t *testing.T) {
	h := handOf(t, "1W", "2W", "4W", "5W")
	combos := CanFormSequence(h, mustTile(t, "3W"))
	if len(combos) != 3 {
		t.Fatalf("3W into 12/45 expected 3 combos (12,24,45), got %d: %v", len(combos), combos)
	}

	// suit boundary: 9W cannot chain into another suit
	h2 := handOf(t, "8W", "1T", "2T")
	if combos := CanFormSequence(h2, mustTile(t, "9W")); len(combos) != 0 {
		t.Fatalf("9W with 8W only expected 0 combos, got %v", combos)
	}
}

func TestCanUpgradeKong(t *testing.T) {
	five := mustTile(t, "5W")
	melds := []Meld{
		{Kind: MeldChi, Tiles: []Tile{mustTile(t, "1W"), mustTile(t, "2W"), mustTile(t, "3W")}},
		{Kind: MeldPeng, Tiles: []Tile{five, five, five}},
	}
	if idx := CanUpgradeKong(melds, five); idx != 1 {
		t.Fatalf("expected upgrade index 1, got %d", idx)
	}
	if idx := CanUpgradeKong(melds, mustTile(t, "6W")); idx != -1 {
		t.Fatalf("no peng of 6W, expected -1, got %d", idx)
	}
}

func TestHand27_AddRemove(t *testing.T) {
	var h Hand27
	five := mustTile(t, "5W")
	h.Add(five)
	h.Add(five)
	if h.Count(five) != 2 || h.Total() != 2 {
		t.Fatalf("count/total mismatch")
	}
	if !h.Remove(five) || h.Count(five) != 1 {
		t.Fatalf("remove failed")
	}
	if h.Remove(mustTile(t, "6W")) {
		t.Fatalf("removing absent tile should fail")
	}
	tiles := h.Tiles()
	if len(tiles) != 1 || tiles[0] != five {
		t.Fatalf("Tiles() mismatch: %v", tiles)
	}
}
