package journal

import (
	"crypto/sha256"
	"encoding/json"
	"os"
)

// SnapshotData is the consistent checkpoint dumped to an external snapshot
// file, per spec §4.4. It is intentionally a plain serializable structure
// rather than raw engine types, so the journal package has no dependency on
// engine/position internals; those packages build a SnapshotData and pass
// it here to write.
type SnapshotData struct {
	Sequence  uint64                    `json:"sequence"`
	Accounts  []SnapshotAccount         `json:"accounts"`
	Positions []SnapshotPosition        `json:"positions"`
	Orders    []SnapshotOrder           `json:"orders"`
}

type SnapshotAccount struct {
	User        string  `json:"user"`
	CashBalance float64 `json:"cash_balance"`
	RealizedPnl float64 `json:"realized_pnl"`
}

type SnapshotPosition struct {
	User            string  `json:"user"`
	Symbol          string  `json:"symbol"`
	Size            float64 `json:"size"`
	AvgEntryPrice   int64   `json:"avg_entry_price"`
	MarginUsed      float64 `json:"margin_used"`
	RealizedPnl     float64 `json:"realized_pnl"`
	Leverage        float64 `json:"leverage"`
}

type SnapshotOrder struct {
	ID           uint64  `json:"id"`
	Symbol       string  `json:"symbol"`
	User         string  `json:"user"`
	Side         uint8   `json:"side"`
	Type         uint8   `json:"type"`
	Price        int64   `json:"price"`
	StopPrice    int64   `json:"stop_price"`
	RemainingQty float64 `json:"remaining_qty"`
	OriginalQty  float64 `json:"original_qty"`
	ReduceOnly   bool    `json:"reduce_only"`
}

// WriteSnapshotFile serializes data to path as JSON and returns its SHA-256
// content hash, for use in a SnapshotBody journal record.
func WriteSnapshotFile(path string, data SnapshotData) ([hashFieldLen]byte, error) {
	var hash [hashFieldLen]byte
	raw, err := json.Marshal(data)
	if err != nil {
		return hash, err
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return hash, err
	}
	hash = sha256.Sum256(raw)
	return hash, nil
}

// ReadSnapshotFile loads and verifies a snapshot file against its recorded
// content hash.
func ReadSnapshotFile(path string, wantHash [hashFieldLen]byte) (SnapshotData, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return SnapshotData{}, err
	}
	got := sha256.Sum256(raw)
	if got != wantHash {
		return SnapshotData{}, ErrChecksum
	}
	var data SnapshotData
	if err := json.Unmarshal(raw, &data); err != nil {
		return SnapshotData{}, err
	}
	return data, nil
}
