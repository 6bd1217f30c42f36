package store

import (
	"testing"

	"github.com/xsa-dev/perp-trading-engine/pkg/types"
)

func TestSaveAndLoadPosition(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	pos := types.Position{
		Symbol:      "BTC-PERP",
		Size:        1.5,
		EntryPrice:  50000,
		RealizedPnL: 123.45,
	}

	if err := s.SavePosition("BTC-PERP", pos); err != nil {
		t.Fatalf("SavePosition: %v", err)
	}

	loaded, err := s.LoadPosition("BTC-PERP")
	if err != nil {
		t.Fatalf("LoadPosition: %v", err)
	}
	if loaded == nil {
		t.Fatal("LoadPosition returned nil")
	}
	if loaded.Size != pos.Size {
		t.Errorf("Size = %v, want %v", loaded.Size, pos.Size)
	}
	if loaded.EntryPrice != pos.EntryPrice {
		t.Errorf("EntryPrice = %v, want %v", loaded.EntryPrice, pos.EntryPrice)
	}
	if loaded.RealizedPnL != pos.RealizedPnL {
		t.Errorf("RealizedPnL = %v, want %v", loaded.RealizedPnL, pos.RealizedPnL)
	}
}

func TestLoadPositionMissing(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	loaded, err := s.LoadPosition("NONEXISTENT")
	if err != nil {
		t.Fatalf("LoadPosition: %v", err)
	}
	if loaded != nil {
		t.Errorf("expected nil for missing position, got %+v", loaded)
	}
}

func TestSavePositionOverwrites(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	pos1 := types.Position{Symbol: "BTC-PERP", Size: 10}
	pos2 := types.Position{Symbol: "BTC-PERP", Size: 20}

	_ = s.SavePosition("BTC-PERP", pos1)
	_ = s.SavePosition("BTC-PERP", pos2)

	loaded, err := s.LoadPosition("BTC-PERP")
	if err != nil {
		t.Fatalf("LoadPosition: %v", err)
	}
	if loaded.Size != 20 {
		t.Errorf("Size = %v, want 20 (latest save)", loaded.Size)
	}
}

func TestLoadAll(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	_ = s.SavePosition("BTC-PERP", types.Position{Symbol: "BTC-PERP", Size: 1})
	_ = s.SavePosition("ETH-PERP", types.Position{Symbol: "ETH-PERP", Size: 2})

	all, err := s.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("LoadAll returned %d positions, want 2", len(all))
	}
	if all["BTC-PERP"].Size != 1 || all["ETH-PERP"].Size != 2 {
		t.Errorf("unexpected loaded positions: %+v", all)
	}
}
