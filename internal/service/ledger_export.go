package service

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"battles/internal/models"
)

var exportHeader = []string{"ID", "Wallet", "Delta", "Reason", "Battle ID", "Token A", "Token B", "HMAC", "Timestamp"}

type ExportRow struct {
	ID          uint64  `json:"id"`
	Participant string  `json:"wallet"`
	Delta       int64   `json:"delta"`
	Reason      string  `json:"reason"`
	BattleID    *uint64 `json:"battle_id"`
	AssetA      string  `json:"token_a,omitempty"`
	AssetB      string  `json:"token_b,omitempty"`
	HMAC        string  `json:"hmac"`
	// CreatedAt is the exact string covered by the HMAC.
	CreatedAt string `json:"created_at"`
}

// ExportRows joins entries with their battles. Battles missing from the map
// leave the asset columns empty.
func ExportRows(entries []models.LedgerEntry, battles map[uint64]models.Battle) []ExportRow {
	out := make([]ExportRow, 0, len(entries))
	for _, e := range entries {
		row := ExportRow{
			ID:          e.ID,
			Participant: e.Participant,
			Delta:       e.Delta,
			Reason:      e.Reason,
			BattleID:    e.BattleID,
			HMAC:        e.HMAC,
			CreatedAt:   e.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
		if e.BattleID != nil {
			if b, ok := battles[*e.BattleID]; ok {
				row.AssetA, row.AssetB = b.AssetA, b.AssetB
			}
		}
		out = append(out, row)
	}
	return out
}

func WriteLedgerCSV(w io.Writer, rows []ExportRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return err
	}
	for _, r := range rows {
		battleID := ""
		if r.BattleID != nil {
			battleID = strconv.FormatUint(*r.BattleID, 10)
		}
		if err := cw.Write([]string{
			strconv.FormatUint(r.ID, 10),
			r.Participant,
			strconv.FormatInt(r.Delta, 10),
			r.Reason,
			battleID,
			r.AssetA,
			r.AssetB,
			r.HMAC,
			r.CreatedAt,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func SumDeltas(rows []ExportRow) int64 {
	var total int64
	for _, r := range rows {
		total += r.Delta
	}
	return total
}
