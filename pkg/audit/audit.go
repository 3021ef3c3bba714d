// Package audit records every authorization outcome. Owner ids are stored
// hashed; post text never enters the log.
package audit

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type auditDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Record struct {
	DecisionID   string    `json:"decision_id"`
	OwnerIDHash  string    `json:"owner_id_hash"`
	Action       string    `json:"action"`
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id"`
	Decision     string    `json:"decision"`
	CreatedAt    time.Time `json:"created_at"`
}

type Writer struct {
	DB auditDB
	// Mirror receives a copy of every record when set; failures there are
	// the mirror's problem, not the request's.
	Mirror Publisher
}

type Publisher interface {
	Publish(ctx context.Context, rec Record) error
}

func (w *Writer) Append(ctx context.Context, rec Record) error {
	_, err := w.DB.Exec(ctx, `
		INSERT INTO decision_log
		(decision_id, owner_id_hash, action, resource_type, resource_id, decision, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, rec.DecisionID, rec.OwnerIDHash, rec.Action, rec.ResourceType, rec.ResourceID, rec.Decision, rec.CreatedAt)
	if err != nil {
		return err
	}
	if w.Mirror != nil {
		_ = w.Mirror.Publish(ctx, rec)
	}
	return nil
}

func (w *Writer) Get(ctx context.Context, decisionID string) (Record, error) {
	var rec Record
	row := w.DB.QueryRow(ctx, `
		SELECT decision_id, owner_id_hash, action, resource_type, resource_id, decision, created_at
		FROM decision_log WHERE decision_id=$1
	`, decisionID)
	if err := row.Scan(&rec.DecisionID, &rec.OwnerIDHash, &rec.Action, &rec.ResourceType, &rec.ResourceID, &rec.Decision, &rec.CreatedAt); err != nil {
		return rec, err
	}
	return rec, nil
}

// HashOwner pseudonymizes an owner id for storage.
func HashOwner(ownerID string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(ownerID)))
	return fmt.Sprintf("%x", sum[:])
}
