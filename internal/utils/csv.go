package utils

import (
	"encoding/csv"
	"os"
	"time"

	"tradeledger/internal/domain"
)

// WriteTradesToCSV exports a trade audit trail, compensating pairs included,
// for offline review. Decimal fields are written as exact strings.
func WriteTradesToCSV(trades []*domain.Trade, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	writer.Write([]string{"id", "asset_id", "position_id", "signal_id", "side", "quantity", "price", "commission", "total_value", "status", "executed_at"})

	for _, t := range trades {
		writer.Write([]string{
			t.ID,
			t.AssetID,
			t.PositionID,
			t.SignalID,
			string(t.Side),
			t.Quantity.String(),
			t.Price.String(),
			t.Commission.String(),
			t.TotalValue.String(),
			string(t.Status),
			t.ExecutedAt.Format(time.RFC3339),
		})
	}
	return writer.Error()
}
