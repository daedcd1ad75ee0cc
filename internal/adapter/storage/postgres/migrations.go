package postgres

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Migration is one forward-only schema step.
type Migration struct {
	Version string
	Name    string
	SQL     string
}

// Migrations are applied in order and recorded in schema_migrations.
var Migrations = []Migration{
	{
		Version: "20260101000001",
		Name:    "create_accounts",
		SQL: `
CREATE TABLE IF NOT EXISTS accounts (
    id              UUID PRIMARY KEY,
    owner_ref       TEXT NOT NULL DEFAULT '',
    type            TEXT NOT NULL CHECK (type IN ('asset','liability','equity','revenue','expense')),
    category        TEXT NOT NULL DEFAULT '',
    currency        CHAR(3) NOT NULL,
    balance         BIGINT NOT NULL DEFAULT 0,
    held            BIGINT NOT NULL DEFAULT 0 CHECK (held >= 0),
    status          TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active','frozen','closed')),
    allow_overdraft BOOLEAN NOT NULL DEFAULT FALSE,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_accounts_owner ON accounts (owner_ref);
`,
	},
	{
		Version: "20260101000002",
		Name:    "create_ledger",
		SQL: `
CREATE TABLE IF NOT EXISTS ledger_groups (
    id          TEXT PRIMARY KEY,
    client_ref  TEXT NOT NULL DEFAULT '',
    type        TEXT NOT NULL,
    reversal_of TEXT UNIQUE REFERENCES ledger_groups (id),
    created_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS ledger_entries (
    id            UUID PRIMARY KEY,
    group_id      TEXT NOT NULL REFERENCES ledger_groups (id),
    line_no       INT NOT NULL,
    account_id    UUID NOT NULL REFERENCES accounts (id),
    direction     TEXT NOT NULL CHECK (direction IN ('debit','credit')),
    amount        BIGINT NOT NULL CHECK (amount > 0),
    currency      CHAR(3) NOT NULL,
    balance_after BIGINT NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ledger_entries_account ON ledger_entries (account_id, created_at, id);
CREATE INDEX IF NOT EXISTS idx_ledger_entries_group ON ledger_entries (group_id, line_no);
CREATE INDEX IF NOT EXISTS idx_ledger_entries_created ON ledger_entries (created_at);

CREATE OR REPLACE FUNCTION ledger_entries_immutable() RETURNS trigger AS $$
BEGIN
    RAISE EXCEPTION 'ledger entries are immutable';
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS trg_ledger_entries_immutable ON ledger_entries;
CREATE TRIGGER trg_ledger_entries_immutable
    BEFORE UPDATE OR DELETE ON ledger_entries
    FOR EACH ROW EXECUTE FUNCTION ledger_entries_immutable();
`,
	},
	{
		Version: "20260101000003",
		Name:    "create_holds",
		SQL: `
CREATE TABLE IF NOT EXISTS holds (
    id          UUID PRIMARY KEY,
    account_id  UUID NOT NULL REFERENCES accounts (id),
    amount      BIGINT NOT NULL CHECK (amount > 0),
    currency    CHAR(3) NOT NULL,
    reference   TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ NOT NULL,
    released_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_holds_account ON holds (account_id) WHERE released_at IS NULL;
`,
	},
	{
		Version: "20260101000004",
		Name:    "create_idempotency_records",
		SQL: `
CREATE TABLE IF NOT EXISTS idempotency_records (
    key        TEXT PRIMARY KEY,
    status     TEXT NOT NULL,
    outcome    JSONB,
    expires_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_idempotency_expires ON idempotency_records (expires_at);
`,
	},
	{
		Version: "20260101000005",
		Name:    "create_risk_alerts",
		SQL: `
CREATE TABLE IF NOT EXISTS risk_alerts (
    id           UUID PRIMARY KEY,
    client_ref   TEXT NOT NULL,
    account_id   UUID NOT NULL,
    principal_id TEXT NOT NULL DEFAULT '',
    decision     TEXT NOT NULL,
    score        INT NOT NULL,
    factors      JSONB NOT NULL DEFAULT '[]',
    created_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_risk_alerts_account ON risk_alerts (account_id, created_at DESC);
`,
	},
	{
		Version: "20260101000006",
		Name:    "create_audit_logs",
		SQL: `
CREATE TABLE IF NOT EXISTS audit_logs (
    id            UUID PRIMARY KEY,
    principal_id  TEXT NOT NULL DEFAULT '',
    action        TEXT NOT NULL,
    resource_type TEXT NOT NULL,
    resource_id   TEXT NOT NULL DEFAULT '',
    details       JSONB,
    ip_address    TEXT NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_logs_resource ON audit_logs (resource_type, resource_id);
`,
	},
}

// Migrate applies pending migrations, each in its own transaction.
func Migrate(ctx context.Context, pool Pool, log zerolog.Logger) error {
	_, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
    version    TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, m := range Migrations {
		if err := applyMigration(ctx, pool, m); err != nil {
			return err
		}
		log.Debug().Str("version", m.Version).Str("name", m.Name).Msg("migration checked")
	}
	return nil
}

func applyMigration(ctx context.Context, pool Pool, m Migration) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", m.Version, err)
	}
	defer rollback(ctx, tx)

	tag, err := tx.Exec(ctx,
		`INSERT INTO schema_migrations (version, name) VALUES ($1, $2) ON CONFLICT (version) DO NOTHING`,
		m.Version, m.Name)
	if err != nil {
		return fmt.Errorf("record migration %s: %w", m.Version, err)
	}
	if tag.RowsAffected() == 0 {
		return tx.Commit(ctx)
	}
	if _, err := tx.Exec(ctx, m.SQL); err != nil {
		return fmt.Errorf("apply migration %s (%s): %w", m.Version, m.Name, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit migration %s: %w", m.Version, err)
	}
	return nil
}
