package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeAuditDB struct {
	execSQL  []string
	execArgs [][]any
	execErr  error
	rowFn    func(sql string, args ...any) pgx.Row
}

func (f *fakeAuditDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execSQL = append(f.execSQL, sql)
	f.execArgs = append(f.execArgs, args)
	if f.execErr != nil {
		return pgconn.CommandTag{}, f.execErr
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (f *fakeAuditDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if f.rowFn != nil {
		return f.rowFn(sql, args...)
	}
	return fakeRow{err: pgx.ErrNoRows}
}

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return errors.New("scan arity mismatch")
	}
	for i := range dest {
		switch d := dest[i].(type) {
		case *string:
			*d = r.values[i].(string)
		case *time.Time:
			*d = r.values[i].(time.Time)
		default:
			return errors.New("unsupported scan dest")
		}
	}
	return nil
}

type fakePublisher struct {
	records []Record
	err     error
}

func (p *fakePublisher) Publish(ctx context.Context, rec Record) error {
	p.records = append(p.records, rec)
	return p.err
}

func TestAppendWritesRecord(t *testing.T) {
	db := &fakeAuditDB{}
	w := &Writer{DB: db}
	rec := Record{
		DecisionID:   "d1",
		OwnerIDHash:  HashOwner("pool|u1"),
		Action:       "DeletePost",
		ResourceType: "SimplePosts::Post",
		ResourceID:   "p1",
		Decision:     "DENY",
		CreatedAt:    time.Now().UTC(),
	}
	if err := w.Append(context.Background(), rec); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if len(db.execSQL) != 1 {
		t.Fatalf("expected 1 insert, got %d", len(db.execSQL))
	}
	if db.execArgs[0][0] != "d1" || db.execArgs[0][5] != "DENY" {
		t.Fatalf("unexpected insert args: %v", db.execArgs[0])
	}
}

func TestAppendMirrors(t *testing.T) {
	db := &fakeAuditDB{}
	pub := &fakePublisher{}
	w := &Writer{DB: db, Mirror: pub}
	if err := w.Append(context.Background(), Record{DecisionID: "d1"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if len(pub.records) != 1 || pub.records[0].DecisionID != "d1" {
		t.Fatalf("mirror not invoked: %+v", pub.records)
	}
}

func TestAppendMirrorFailureIsSwallowed(t *testing.T) {
	db := &fakeAuditDB{}
	pub := &fakePublisher{err: errors.New("broker down")}
	w := &Writer{DB: db, Mirror: pub}
	if err := w.Append(context.Background(), Record{DecisionID: "d1"}); err != nil {
		t.Fatalf("mirror failure must not fail the append: %v", err)
	}
}

func TestAppendDBErrorPropagates(t *testing.T) {
	db := &fakeAuditDB{execErr: errors.New("db down")}
	w := &Writer{DB: db}
	if err := w.Append(context.Background(), Record{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestGet(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	db := &fakeAuditDB{rowFn: func(sql string, args ...any) pgx.Row {
		return fakeRow{values: []any{"d1", "hash", "CreatePost", "SimplePosts::Application", "app", "ALLOW", now}}
	}}
	w := &Writer{DB: db}
	rec, err := w.Get(context.Background(), "d1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Action != "CreatePost" || rec.Decision != "ALLOW" || !rec.CreatedAt.Equal(now) {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestHashOwnerStableAndTrimmed(t *testing.T) {
	if HashOwner("pool|u1") != HashOwner("  pool|u1  ") {
		t.Fatal("hash must trim input")
	}
	if HashOwner("a") == HashOwner("b") {
		t.Fatal("distinct owners must hash differently")
	}
	if len(HashOwner("x")) != 64 {
		t.Fatal("expected hex sha256")
	}
}
