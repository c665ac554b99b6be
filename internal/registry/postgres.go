package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bigkaa/linkdrop/internal/domain/model"
)

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx, что позволяет
// использовать реестр как внутри, так и вне транзакций.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// recordColumns — список столбцов таблицы file_records для SELECT-запросов.
// DRY: одно место для всех SELECT'ов.
const recordColumns = `token, storage_handle, original_name, content_type,
	size_bytes, checksum, created_at`

// Postgres — реестр ссылок поверх PostgreSQL.
// Чистый SQL через pgx, без ORM. Durable-хранилище записей:
// уникальность токена обеспечивается PRIMARY KEY, атомарность
// операций — per-row семантикой PostgreSQL.
type Postgres struct {
	db        DBTX
	retention time.Duration
}

// NewPostgres создаёт PostgreSQL-реестр.
func NewPostgres(db DBTX, retention time.Duration) *Postgres {
	return &Postgres{db: db, retention: retention}
}

// Create генерирует токен и вставляет запись.
// Коллизия токена обнаруживается через ON CONFLICT DO NOTHING:
// нулевое количество затронутых строк означает занятый токен,
// после чего генерация повторяется.
func (p *Postgres) Create(ctx context.Context, rec *model.FileRecord) (string, error) {
	const query = `
		INSERT INTO file_records
			(token, storage_handle, original_name, content_type, size_bytes, checksum, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (token) DO NOTHING`

	for attempt := 0; attempt < tokenRetryBudget; attempt++ {
		token := newToken()

		tag, err := p.db.Exec(ctx, query,
			token, rec.StorageHandle, rec.OriginalName, rec.ContentType,
			rec.SizeBytes, rec.Checksum, rec.CreatedAt,
		)
		if err != nil {
			return "", fmt.Errorf("ошибка создания записи: %w", err)
		}
		if tag.RowsAffected() == 1 {
			return token, nil
		}
		// Токен занят — повторяем с новым
	}

	return "", ErrDuplicateToken
}

// Lookup возвращает запись по токену. Lazy expiry выполняется прямо
// в запросе: истёкшие записи отфильтровываются условием по created_at,
// так что устаревшие данные не могут попасть к вызывающему коду.
func (p *Postgres) Lookup(ctx context.Context, token string) (*model.FileRecord, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM file_records WHERE token = $1 AND created_at + $2::interval > now()`,
		recordColumns,
	)

	rec := &model.FileRecord{}
	err := p.db.QueryRow(ctx, query, token, p.retention.String()).Scan(
		&rec.Token, &rec.StorageHandle, &rec.OriginalName, &rec.ContentType,
		&rec.SizeBytes, &rec.Checksum, &rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка чтения записи: %w", err)
	}
	return rec, nil
}

// Delete удаляет запись. Идемпотентна: нулевое количество
// затронутых строк не является ошибкой.
func (p *Postgres) Delete(ctx context.Context, token string) error {
	const query = `DELETE FROM file_records WHERE token = $1`

	if _, err := p.db.Exec(ctx, query, token); err != nil {
		return fmt.Errorf("ошибка удаления записи: %w", err)
	}
	return nil
}

// HasHandle проверяет наличие записи со storage_handle, включая
// истёкшие: их blob'ы удаляет основной проход реапера.
func (p *Postgres) HasHandle(ctx context.Context, handle string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM file_records WHERE storage_handle = $1)`

	var exists bool
	if err := p.db.QueryRow(ctx, query, handle).Scan(&exists); err != nil {
		return false, fmt.Errorf("ошибка проверки handle: %w", err)
	}
	return exists, nil
}

// ListExpired возвращает все записи с created_at + retention <= now.
func (p *Postgres) ListExpired(ctx context.Context, now time.Time) ([]*model.FileRecord, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM file_records WHERE created_at + $1::interval <= $2 ORDER BY created_at`,
		recordColumns,
	)

	rows, err := p.db.Query(ctx, query, p.retention.String(), now)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки истёкших записей: %w", err)
	}
	defer rows.Close()

	var result []*model.FileRecord
	for rows.Next() {
		rec := &model.FileRecord{}
		if err := rows.Scan(
			&rec.Token, &rec.StorageHandle, &rec.OriginalName, &rec.ContentType,
			&rec.SizeBytes, &rec.Checksum, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации результатов: %w", err)
	}

	return result, nil
}
