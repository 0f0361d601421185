package jobs

import (
	"context"
	"database/sql"
	"time"

	"github.com/clipstudio/clipstudio-agent/internal/render"
)

type Repository interface {
	CreateExport(ctx context.Context, e *Export) error
	GetExport(ctx context.Context, id string) (*Export, error)
	ListExports(ctx context.Context, limit int) ([]*Export, error)
	UpdateExportProgress(ctx context.Context, id string, status render.State, progress float64) error
	SaveExport(ctx context.Context, e *Export) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const exportColumns = `id, name, source_path, format, encrypted, status, progress,
	error_kind, error_message, filename, path, location, mime_type, size, iv, salt,
	frames, duration, created_at, updated_at`

func (r *SQLiteRepository) CreateExport(ctx context.Context, e *Export) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO exports (`+exportColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.Name, e.SourcePath, e.Format, boolToInt(e.Encrypted), string(e.Status), e.Progress,
		nullString(string(e.ErrorKind)), nullString(e.ErrorMessage), nullString(e.Filename),
		nullString(e.Path), nullString(e.Location), nullString(e.MimeType), e.Size, e.IV, e.Salt,
		e.Frames, e.Duration, e.CreatedAt.Format(time.RFC3339Nano), e.UpdatedAt.Format(time.RFC3339Nano))
	return err
}

func (r *SQLiteRepository) GetExport(ctx context.Context, id string) (*Export, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+exportColumns+` FROM exports WHERE id = ?`, id)
	e, err := scanExport(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func (r *SQLiteRepository) ListExports(ctx context.Context, limit int) ([]*Export, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+exportColumns+` FROM exports ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exports []*Export
	for rows.Next() {
		e, err := scanExport(rows)
		if err != nil {
			return nil, err
		}
		exports = append(exports, e)
	}
	return exports, rows.Err()
}

func (r *SQLiteRepository) UpdateExportProgress(ctx context.Context, id string, status render.State, progress float64) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE exports SET status = ?, progress = ?, updated_at = ? WHERE id = ?",
		string(status), progress, time.Now().Format(time.RFC3339Nano), id)
	return err
}

// SaveExport writes every mutable column of e.
func (r *SQLiteRepository) SaveExport(ctx context.Context, e *Export) error {
	e.UpdatedAt = time.Now()
	_, err := r.db.ExecContext(ctx, `
		UPDATE exports SET status = ?, progress = ?, error_kind = ?, error_message = ?,
			filename = ?, path = ?, location = ?, mime_type = ?, size = ?, iv = ?, salt = ?,
			frames = ?, duration = ?, updated_at = ?
		WHERE id = ?
	`, string(e.Status), e.Progress, nullString(string(e.ErrorKind)), nullString(e.ErrorMessage),
		nullString(e.Filename), nullString(e.Path), nullString(e.Location), nullString(e.MimeType),
		e.Size, e.IV, e.Salt, e.Frames, e.Duration, e.UpdatedAt.Format(time.RFC3339Nano), e.ID)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExport(row scanner) (*Export, error) {
	var e Export
	var encrypted int
	var status, createdAt, updatedAt string
	var errorKind, errorMessage, filename, path, location, mimeType sql.NullString

	err := row.Scan(&e.ID, &e.Name, &e.SourcePath, &e.Format, &encrypted, &status, &e.Progress,
		&errorKind, &errorMessage, &filename, &path, &location, &mimeType, &e.Size, &e.IV, &e.Salt,
		&e.Frames, &e.Duration, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	e.Encrypted = encrypted == 1
	e.Status = render.State(status)
	e.ErrorKind = render.Kind(errorKind.String)
	e.ErrorMessage = errorMessage.String
	e.Filename = filename.String
	e.Path = path.String
	e.Location = location.String
	e.MimeType = mimeType.String
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &e, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
