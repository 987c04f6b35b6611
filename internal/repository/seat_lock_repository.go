package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/ekirmen/zeatingmaps-sub014/internal/model"
)

// SeatLockRepo is the MySQL-backed LockStore.  It relies on the
// UNIQUE KEY (show_id, seat_id) of the seat_locks table: the INSERT
// against that key is the compare-and-swap that guarantees at most one
// winner under concurrent Acquire calls, and every other mutation is a
// single conditional statement guarded by holder and expiry
// predicates.  All expiry comparisons use the database clock
// (UTC_TIMESTAMP) so enforcement happens at the same atomicity
// boundary as the write itself.
//
// Schema:
//
//	CREATE TABLE seat_locks (
//	    show_id    BIGINT UNSIGNED NOT NULL,
//	    seat_id    VARCHAR(64)     NOT NULL,
//	    session_id CHAR(36)        NOT NULL,
//	    status     ENUM('selected','reserved','paid','sold') NOT NULL,
//	    created_at DATETIME NOT NULL,
//	    expires_at DATETIME NULL,
//	    UNIQUE KEY uq_seat_locks_show_seat (show_id, seat_id)
//	);
type SeatLockRepo struct {
	db *sql.DB
}

// NewSeatLockRepo returns a SeatLockRepo bound to the provided database.
func NewSeatLockRepo(db *sql.DB) *SeatLockRepo { return &SeatLockRepo{db: db} }

const mysqlErrDuplicateEntry = 1062

func isDuplicateEntry(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlErrDuplicateEntry
}

// Acquire claims the seat inside one transaction.  The lapsed-hold
// delete and the refresh update are both conditional, and the final
// INSERT races on the unique key; a duplicate entry means another
// session won and is reported as ErrSeatUnavailable.
func (r *SeatLockRepo) Acquire(ctx context.Context, showID uint64, seatID, sessionID string, ttl time.Duration) (*model.SeatLock, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	ttlSec := int64(ttl / time.Second)

	// Vacate a lapsed hold so it cannot block the insert below.  The
	// predicate only matches holding rows; terminal rows are untouched.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM seat_locks
		 WHERE show_id = ? AND seat_id = ?
		   AND status IN ('selected','reserved') AND expires_at <= UTC_TIMESTAMP()`,
		showID, seatID,
	); err != nil {
		return nil, err
	}

	// Re-acquire by the current holder refreshes the hold in place.
	res, err := tx.ExecContext(ctx,
		`UPDATE seat_locks
		 SET status = 'selected', expires_at = DATE_ADD(UTC_TIMESTAMP(), INTERVAL ? SECOND)
		 WHERE show_id = ? AND seat_id = ? AND session_id = ?
		   AND status IN ('selected','reserved') AND expires_at > UTC_TIMESTAMP()`,
		ttlSec, showID, seatID, sessionID,
	)
	if err != nil {
		return nil, err
	}
	refreshed, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if refreshed == 0 {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO seat_locks (show_id, seat_id, session_id, status, created_at, expires_at)
			 VALUES (?, ?, ?, 'selected', UTC_TIMESTAMP(), DATE_ADD(UTC_TIMESTAMP(), INTERVAL ? SECOND))`,
			showID, seatID, sessionID, ttlSec,
		)
		if isDuplicateEntry(err) {
			return nil, ErrSeatUnavailable
		}
		if err != nil {
			return nil, err
		}
	}

	lk, err := scanLockTx(ctx, tx, showID, seatID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	return lk, nil
}

// Release deletes the caller's hold regardless of whether it has
// lapsed in the meantime; a zero-row delete is ErrNotOwner.
func (r *SeatLockRepo) Release(ctx context.Context, showID uint64, seatID, sessionID string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM seat_locks
		 WHERE show_id = ? AND seat_id = ? AND session_id = ?
		   AND status IN ('selected','reserved')`,
		showID, seatID, sessionID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotOwner
	}
	return nil
}

// Extend refreshes the expiry of the caller's live hold.  The update
// itself carries the full guard; the follow-up query only classifies
// the zero-row outcome.
func (r *SeatLockRepo) Extend(ctx context.Context, showID uint64, seatID, sessionID string, ttl time.Duration) (*model.SeatLock, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE seat_locks
		 SET expires_at = DATE_ADD(UTC_TIMESTAMP(), INTERVAL ? SECOND)
		 WHERE show_id = ? AND seat_id = ? AND session_id = ?
		   AND status IN ('selected','reserved') AND expires_at > UTC_TIMESTAMP()`,
		int64(ttl/time.Second), showID, seatID, sessionID,
	)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, r.classifyMiss(ctx, showID, seatID)
	}
	return r.Query(ctx, showID, seatID)
}

// Promote advances the caller's live hold.  Paid locks become terminal
// and drop their expiry.  Replaying a promotion the lock already went
// through is reported as success so payment confirmations can be
// retried.
func (r *SeatLockRepo) Promote(ctx context.Context, showID uint64, seatID, sessionID string, status model.LockStatus) (*model.SeatLock, error) {
	if status != model.StatusReserved && status != model.StatusPaid {
		return nil, ErrNotOwner
	}
	var res sql.Result
	var err error
	if status == model.StatusPaid {
		res, err = r.db.ExecContext(ctx,
			`UPDATE seat_locks
			 SET status = 'paid', expires_at = NULL
			 WHERE show_id = ? AND seat_id = ? AND session_id = ?
			   AND status IN ('selected','reserved') AND expires_at > UTC_TIMESTAMP()`,
			showID, seatID, sessionID,
		)
	} else {
		res, err = r.db.ExecContext(ctx,
			`UPDATE seat_locks
			 SET status = 'reserved'
			 WHERE show_id = ? AND seat_id = ? AND session_id = ?
			   AND status = 'selected' AND expires_at > UTC_TIMESTAMP()`,
			showID, seatID, sessionID,
		)
	}
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		lk, qerr := r.Query(ctx, showID, seatID)
		if qerr != nil {
			return nil, qerr
		}
		// Idempotent replay: the caller's lock already carries the
		// requested status.
		if lk != nil && lk.SessionID == sessionID && lk.Status == status {
			return lk, nil
		}
		if lk == nil {
			return nil, ErrExpired
		}
		if lk.SessionID != sessionID && lk.Status.Holding() {
			return nil, ErrExpired
		}
		return nil, ErrNotOwner
	}
	return r.Query(ctx, showID, seatID)
}

// Query returns the live or terminal lock, or nil when the seat is
// free.  The predicate treats lapsed holds as already vacated.
func (r *SeatLockRepo) Query(ctx context.Context, showID uint64, seatID string) (*model.SeatLock, error) {
	lk, err := scanLock(ctx, r.db, showID, seatID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return lk, err
}

// QueryShow returns every live or terminal lock for the show.
func (r *SeatLockRepo) QueryShow(ctx context.Context, showID uint64) ([]model.SeatLock, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT show_id, seat_id, session_id, status, created_at, expires_at
		 FROM seat_locks
		 WHERE show_id = ?
		   AND (status IN ('paid','sold') OR expires_at > UTC_TIMESTAMP())`,
		showID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var locks []model.SeatLock
	for rows.Next() {
		lk, err := scanLockRow(rows)
		if err != nil {
			return nil, err
		}
		locks = append(locks, *lk)
	}
	return locks, rows.Err()
}

// DeleteExpired removes every lapsed hold and returns the removed
// locks so the sweeper can announce them.  Runs in a transaction so
// the returned set matches the deleted set exactly.
func (r *SeatLockRepo) DeleteExpired(ctx context.Context) ([]model.SeatLock, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	rows, err := tx.QueryContext(ctx,
		`SELECT show_id, seat_id, session_id, status, created_at, expires_at
		 FROM seat_locks
		 WHERE status IN ('selected','reserved') AND expires_at <= UTC_TIMESTAMP()
		 FOR UPDATE`,
	)
	if err != nil {
		return nil, err
	}
	var expired []model.SeatLock
	for rows.Next() {
		lk, scanErr := scanLockRow(rows)
		if scanErr != nil {
			rows.Close()
			return nil, scanErr
		}
		expired = append(expired, *lk)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if len(expired) > 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM seat_locks
			 WHERE status IN ('selected','reserved') AND expires_at <= UTC_TIMESTAMP()`,
		); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	return expired, nil
}

// classifyMiss decides which sentinel a zero-row extend maps to.  A
// missing or lapsed hold means the caller's claim expired; a live hold
// by another session means the seat was taken over after the lapse,
// which is also reported as expired.  Only terminal rows yield
// ErrNotOwner.
func (r *SeatLockRepo) classifyMiss(ctx context.Context, showID uint64, seatID string) error {
	lk, err := r.Query(ctx, showID, seatID)
	if err != nil {
		return err
	}
	if lk != nil && lk.Status.Terminal() {
		return ErrNotOwner
	}
	return ErrExpired
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLockRow(s rowScanner) (*model.SeatLock, error) {
	var lk model.SeatLock
	var expires sql.NullTime
	if err := s.Scan(&lk.ShowID, &lk.SeatID, &lk.SessionID, &lk.Status, &lk.CreatedAt, &expires); err != nil {
		return nil, err
	}
	if expires.Valid {
		lk.ExpiresAt = expires.Time.UTC()
	}
	lk.CreatedAt = lk.CreatedAt.UTC()
	return &lk, nil
}

const selectLock = `SELECT show_id, seat_id, session_id, status, created_at, expires_at
	 FROM seat_locks
	 WHERE show_id = ? AND seat_id = ?
	   AND (status IN ('paid','sold') OR expires_at > UTC_TIMESTAMP())`

func scanLock(ctx context.Context, db *sql.DB, showID uint64, seatID string) (*model.SeatLock, error) {
	return scanLockRow(db.QueryRowContext(ctx, selectLock, showID, seatID))
}

func scanLockTx(ctx context.Context, tx *sql.Tx, showID uint64, seatID string) (*model.SeatLock, error) {
	return scanLockRow(tx.QueryRowContext(ctx, selectLock, showID, seatID))
}
