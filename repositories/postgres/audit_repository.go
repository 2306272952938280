package postgres

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/upb/tma-auth-gateway/models"
	"github.com/upb/tma-auth-gateway/repositories"
)

// AuditRepository implements the repositories.AuditRepository interface
type AuditRepository struct {
	db     *DB
	tm     repositories.TransactionManager
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB, logger *zap.Logger) repositories.AuditRepository {
	return &AuditRepository{
		db:     db,
		tm:     NewTransactionManager(db, logger),
		logger: logger,
	}
}

const insertAuditLog = `
	INSERT INTO audit_logs (
		id, action, subject, external_id, error_kind, details,
		ip_address, user_agent, request_id, timestamp
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
	)
`

// Insert inserts a new audit log entry
func (r *AuditRepository) Insert(ctx context.Context, log *models.AuditLog) error {
	var details interface{}
	if len(log.Details) > 0 {
		details = []byte(log.Details)
	}

	_, err := GetExecutor(ctx, r.db).ExecContext(ctx, insertAuditLog,
		log.ID,
		log.Action,
		log.Subject,
		log.ExternalID,
		log.ErrorKind,
		details,
		log.IPAddress,
		log.UserAgent,
		log.RequestID,
		log.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	r.logger.Debug("audit log inserted", zap.String("id", log.ID.String()), zap.String("action", string(log.Action)))
	return nil
}

// InsertBatch inserts all entries in one transaction
func (r *AuditRepository) InsertBatch(ctx context.Context, logs []*models.AuditLog) error {
	if len(logs) == 0 {
		return nil
	}
	if len(logs) == 1 {
		return r.Insert(ctx, logs[0])
	}

	return r.tm.InTransaction(ctx, func(txCtx context.Context, _ repositories.Transaction) error {
		for _, log := range logs {
			if err := r.Insert(txCtx, log); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListBySubject returns audit logs for a subject, newest first
func (r *AuditRepository) ListBySubject(ctx context.Context, subject string, limit, offset int) ([]*models.AuditLog, error) {
	query := `
		SELECT id, action, subject, external_id, error_kind, details,
		       ip_address, user_agent, request_id, timestamp
		FROM audit_logs
		WHERE subject = $1
		ORDER BY timestamp DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := GetExecutor(ctx, r.db).QueryContext(ctx, query, subject, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.AuditLog
	for rows.Next() {
		log := &models.AuditLog{}
		var details []byte
		if err := rows.Scan(
			&log.ID,
			&log.Action,
			&log.Subject,
			&log.ExternalID,
			&log.ErrorKind,
			&details,
			&log.IPAddress,
			&log.UserAgent,
			&log.RequestID,
			&log.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		log.Details = details
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}

	return logs, nil
}
