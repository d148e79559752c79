// Path: internal/audit/audit.go
package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"gorm.io/gorm"
)

// Entry is one audit trail record. Old and New are snapshotted to JSON at
// write time so the trail survives schema drift in the entities it
// describes. An empty PerformedBy means the system acted on its own.
type Entry struct {
	EntityType  string
	EntityID    string
	ActionType  string
	Old         any
	New         any
	PerformedBy string
	IPAddress   string
}

// Record writes an audit row inside a pgx transaction so the trail commits
// or rolls back together with the change it describes.
func Record(ctx context.Context, tx pgx.Tx, e Entry) error {
	oldJSON, newJSON, err := e.snapshots()
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
        INSERT INTO system_audit_logs (entity_type, entity_id, action_type, old_value, new_value, performed_by, ip_address, created_at)
        VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, $6, $7, now())`,
		e.EntityType, e.EntityID, e.ActionType, oldJSON, newJSON, nullable(e.PerformedBy), nullable(e.IPAddress))
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// RecordDB writes an audit row through a gorm handle. Pass the transaction
// handle when the audit row must commit with the change.
func RecordDB(db *gorm.DB, e Entry) error {
	oldJSON, newJSON, err := e.snapshots()
	if err != nil {
		return err
	}
	res := db.Exec(`
        INSERT INTO system_audit_logs (entity_type, entity_id, action_type, old_value, new_value, performed_by, ip_address, created_at)
        VALUES (?, ?, ?, ?::jsonb, ?::jsonb, ?, ?, now())`,
		e.EntityType, e.EntityID, e.ActionType, oldJSON, newJSON, nullable(e.PerformedBy), nullable(e.IPAddress))
	if res.Error != nil {
		return fmt.Errorf("insert audit log: %w", res.Error)
	}
	return nil
}

// snapshots marshals the old and new values, keeping nil as SQL NULL.
func (e Entry) snapshots() (oldJSON, newJSON *string, err error) {
	if oldJSON, err = snapshot(e.Old); err != nil {
		return nil, nil, fmt.Errorf("marshal old value: %w", err)
	}
	if newJSON, err = snapshot(e.New); err != nil {
		return nil, nil, fmt.Errorf("marshal new value: %w", err)
	}
	return oldJSON, newJSON, nil
}

func snapshot(v any) (*string, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
