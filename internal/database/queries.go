package database

import (
	"context"
	"database/sql"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/aurora-is-near/aurora-forwarder/internal/factory"
	"github.com/aurora-is-near/aurora-forwarder/internal/forwarder"
	"github.com/aurora-is-near/aurora-forwarder/internal/models"
)

// ==================== Registry ====================

// RegistryStore implements factory.Registry over Postgres.
type RegistryStore struct {
	db *DB
}

// Registry returns the Postgres-backed factory registry.
func (db *DB) Registry() *RegistryStore {
	return &RegistryStore{db: db}
}

// Get implements factory.Registry.
func (r *RegistryStore) Get(ctx context.Context, bindingKey string) (string, bool, error) {
	var accountID string
	query := `SELECT account_id FROM registry WHERE binding_key = $1`
	err := r.db.GetContext(ctx, &accountID, query, bindingKey)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return accountID, true, nil
}

// Put implements factory.Registry. Entries are append-only; a conflicting
// insert is reported as a duplicate deployment, never overwritten.
func (r *RegistryStore) Put(ctx context.Context, entry models.RegistryEntry) error {
	query := `
		INSERT INTO registry (binding_key, account_id)
		VALUES ($1, $2)
		ON CONFLICT (binding_key) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query, entry.BindingKey, entry.AccountID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return factory.ErrDuplicateDeployment
	}
	return nil
}

// ==================== Forwarders ====================

// ForwarderStore implements forwarder.Store over Postgres.
type ForwarderStore struct {
	db *DB
}

// Forwarders returns the Postgres-backed forwarder store.
func (db *DB) Forwarders() *ForwarderStore {
	return &ForwarderStore{db: db}
}

// forwarderRow is the flat persisted shape of a ForwarderRecord. Amounts are
// stored as NUMERIC and scanned as decimal strings.
type forwarderRow struct {
	AccountID         string `db:"account_id"`
	TargetAddress     string `db:"target_address"`
	TokenID           string `db:"token_id"`
	FeeCollector      string `db:"fee_collector"`
	FeeRateBps        uint32 `db:"fee_rate_bps"`
	FeeMin            string `db:"fee_min"`
	FeeMax            string `db:"fee_max"`
	State             string `db:"state"`
	FailReason        string `db:"fail_reason"`
	PendingTransferID string `db:"pending_transfer_id"`
	PendingFee        string `db:"pending_fee"`
	PendingNet        string `db:"pending_net"`
}

const forwarderColumns = `
	account_id, target_address, token_id, fee_collector,
	fee_rate_bps, fee_min::text, fee_max::text,
	state, fail_reason, pending_transfer_id,
	pending_fee::text, pending_net::text
`

// Get implements forwarder.Store.
func (s *ForwarderStore) Get(ctx context.Context, accountID string) (models.ForwarderRecord, bool, error) {
	var row forwarderRow
	query := `SELECT ` + forwarderColumns + ` FROM forwarders WHERE account_id = $1`
	err := s.db.GetContext(ctx, &row, query, accountID)
	if err == sql.ErrNoRows {
		return models.ForwarderRecord{}, false, nil
	}
	if err != nil {
		return models.ForwarderRecord{}, false, err
	}
	rec, err := row.toRecord()
	return rec, err == nil, err
}

// GetByTransfer implements forwarder.Store.
func (s *ForwarderStore) GetByTransfer(ctx context.Context, transferID string) (models.ForwarderRecord, bool, error) {
	if transferID == "" {
		return models.ForwarderRecord{}, false, nil
	}
	var row forwarderRow
	query := `SELECT ` + forwarderColumns + ` FROM forwarders WHERE pending_transfer_id = $1`
	err := s.db.GetContext(ctx, &row, query, transferID)
	if err == sql.ErrNoRows {
		return models.ForwarderRecord{}, false, nil
	}
	if err != nil {
		return models.ForwarderRecord{}, false, err
	}
	rec, err := row.toRecord()
	return rec, err == nil, err
}

// Create implements forwarder.Store.
func (s *ForwarderStore) Create(ctx context.Context, rec models.ForwarderRecord) error {
	row := fromRecord(rec)
	query := `
		INSERT INTO forwarders (
			account_id, target_address, token_id, fee_collector,
			fee_rate_bps, fee_min, fee_max,
			state, fail_reason, pending_transfer_id, pending_fee, pending_net
		)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8, $9, $10, $11::numeric, $12::numeric)
		ON CONFLICT (account_id) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query,
		row.AccountID, row.TargetAddress, row.TokenID, row.FeeCollector,
		row.FeeRateBps, row.FeeMin, row.FeeMax,
		row.State, row.FailReason, row.PendingTransferID, row.PendingFee, row.PendingNet,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return forwarder.ErrAlreadyDeployed
	}
	return nil
}

// Save implements forwarder.Store. The binding columns are immutable and
// never touched after Create.
func (s *ForwarderStore) Save(ctx context.Context, rec models.ForwarderRecord) error {
	row := fromRecord(rec)
	query := `
		UPDATE forwarders
		SET state = $2, fail_reason = $3, pending_transfer_id = $4,
		    pending_fee = $5::numeric, pending_net = $6::numeric, updated_at = NOW()
		WHERE account_id = $1
	`
	res, err := s.db.ExecContext(ctx, query,
		row.AccountID, row.State, row.FailReason,
		row.PendingTransferID, row.PendingFee, row.PendingNet,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("forwarder %s not found", rec.AccountID)
	}
	return nil
}

// ListByState implements forwarder.Store.
func (s *ForwarderStore) ListByState(ctx context.Context, state models.ForwarderState) ([]models.ForwarderRecord, error) {
	var rows []forwarderRow
	query := `SELECT ` + forwarderColumns + ` FROM forwarders WHERE state = $1 ORDER BY updated_at ASC`
	if err := s.db.SelectContext(ctx, &rows, query, string(state)); err != nil {
		return nil, err
	}
	records := make([]models.ForwarderRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// ==================== Row conversion ====================

func fromRecord(rec models.ForwarderRecord) forwarderRow {
	return forwarderRow{
		AccountID:         rec.AccountID,
		TargetAddress:     rec.Binding.Target.Hex(),
		TokenID:           rec.Binding.TokenID,
		FeeCollector:      rec.Binding.FeeCollector,
		FeeRateBps:        rec.Binding.Fee.RateBps,
		FeeMin:            uintString(rec.Binding.Fee.MinFee),
		FeeMax:            uintString(rec.Binding.Fee.MaxFee),
		State:             string(rec.State),
		FailReason:        rec.FailReason,
		PendingTransferID: rec.PendingTransferID,
		PendingFee:        uintString(rec.PendingFee),
		PendingNet:        uintString(rec.PendingNet),
	}
}

func (row forwarderRow) toRecord() (models.ForwarderRecord, error) {
	feeMin, err := sdkmath.ParseUint(row.FeeMin)
	if err != nil {
		return models.ForwarderRecord{}, fmt.Errorf("parse fee_min: %w", err)
	}
	feeMax, err := sdkmath.ParseUint(row.FeeMax)
	if err != nil {
		return models.ForwarderRecord{}, fmt.Errorf("parse fee_max: %w", err)
	}
	pendingFee, err := sdkmath.ParseUint(row.PendingFee)
	if err != nil {
		return models.ForwarderRecord{}, fmt.Errorf("parse pending_fee: %w", err)
	}
	pendingNet, err := sdkmath.ParseUint(row.PendingNet)
	if err != nil {
		return models.ForwarderRecord{}, fmt.Errorf("parse pending_net: %w", err)
	}

	return models.ForwarderRecord{
		AccountID: row.AccountID,
		Binding: models.Binding{
			Target:       common.HexToAddress(row.TargetAddress),
			TokenID:      row.TokenID,
			FeeCollector: row.FeeCollector,
			Fee: models.FeeConfig{
				RateBps: row.FeeRateBps,
				MinFee:  feeMin,
				MaxFee:  feeMax,
			},
		},
		State:             models.ForwarderState(row.State),
		FailReason:        row.FailReason,
		PendingTransferID: row.PendingTransferID,
		PendingFee:        pendingFee,
		PendingNet:        pendingNet,
	}, nil
}

func uintString(u sdkmath.Uint) string {
	if u.IsNil() {
		return "0"
	}
	return u.String()
}
