package db

import (
	"context"

	"ticketing-core/internal/models"
)

// Counts summarizes the tickets of one event.
type Counts struct {
	Issued      int `json:"issued"`
	Scanned     int `json:"scanned"`
	Voided      int `json:"voided"`
	Transferred int `json:"transferred"`
}

// CountsForEvent returns ticket counts for an event.
func (d *DB) CountsForEvent(ctx context.Context, eventID string) (Counts, error) {
	var c Counts
	err := d.Bun.NewSelect().
		Model((*models.Ticket)(nil)).
		ColumnExpr("COUNT(*) AS issued").
		ColumnExpr("COALESCE(SUM(CASE WHEN scanned THEN 1 ELSE 0 END), 0) AS scanned").
		ColumnExpr("COALESCE(SUM(CASE WHEN voided THEN 1 ELSE 0 END), 0) AS voided").
		ColumnExpr("COALESCE(SUM(transfer_count), 0) AS transferred").
		Where("event_id = ?", eventID).
		Scan(ctx, &c.Issued, &c.Scanned, &c.Voided, &c.Transferred)
	return c, err
}
