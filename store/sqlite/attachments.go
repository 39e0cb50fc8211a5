package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tetherbpf/tetherbpf/netd"
)

// AttachmentEntry is one persisted cgroup attachment.
type AttachmentEntry struct {
	Program    string
	AttachType string
	CgroupPath string
	ProgramID  uint32
	AttachedAt time.Time
}

// ReplaceAttachments replaces the attachment set with what the
// handler just attached, atomically. The table always reflects the
// most recent successful attach batch.
func (s *Store) ReplaceAttachments(ctx context.Context, atts []netd.Attachment) error {
	now := timestamp(time.Now())
	return s.inTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.StmtContext(ctx, s.stmtDeleteAttachments).ExecContext(ctx); err != nil {
			return fmt.Errorf("clear attachments: %w", err)
		}

		insert := tx.StmtContext(ctx, s.stmtInsertAttachment)
		for _, att := range atts {
			if _, err := insert.ExecContext(ctx, att.Program, att.AttachType, att.CgroupPath, att.ProgramID, now); err != nil {
				return fmt.Errorf("insert attachment %s: %w", att.Program, err)
			}
		}
		return nil
	})
}

// Attachments returns the persisted attachment set ordered by program
// name.
func (s *Store) Attachments(ctx context.Context) ([]AttachmentEntry, error) {
	rows, err := s.stmtListAttachments.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	var out []AttachmentEntry
	for rows.Next() {
		var e AttachmentEntry
		var attached string
		if err := rows.Scan(&e.Program, &e.AttachType, &e.CgroupPath, &e.ProgramID, &attached); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		e.AttachedAt = parseTimestamp(attached)
		out = append(out, e)
	}
	return out, rows.Err()
}
