package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"reelworks/internal/models"
)

type postgresRegistry struct {
	pool *pgxpool.Pool
	cfg  PostgresConfig
}

// NewPostgresRegistry opens a Postgres-backed registry and applies the schema
// migration before returning.
func NewPostgresRegistry(dsn string, opts ...PostgresOption) (Registry, error) {
	cfg := newPostgresConfig(dsn, opts...)
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections > 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.AcquireTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	registry := &postgresRegistry{pool: pool, cfg: cfg}
	if err := registry.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return registry, nil
}

const videosSchema = `
CREATE TABLE IF NOT EXISTS videos (
    id               TEXT PRIMARY KEY,
    title            TEXT NOT NULL DEFAULT '',
    description      TEXT NOT NULL DEFAULT '',
    owner_id         TEXT NOT NULL DEFAULT '',
    source_filename  TEXT NOT NULL DEFAULT '',
    source_ref       TEXT NOT NULL,
    size_bytes       BIGINT NOT NULL DEFAULT 0,
    checksum         TEXT NOT NULL DEFAULT '',
    duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
    status           TEXT NOT NULL,
    manifest_ref     TEXT NOT NULL DEFAULT '',
    thumbnail_ref    TEXT NOT NULL DEFAULT '',
    renditions       JSONB NOT NULL DEFAULT '[]',
    error            TEXT NOT NULL DEFAULT '',
    created_at       TIMESTAMPTZ NOT NULL,
    updated_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS videos_owner_idx ON videos (owner_id);
CREATE INDEX IF NOT EXISTS videos_status_idx ON videos (status);
CREATE INDEX IF NOT EXISTS videos_created_idx ON videos (created_at DESC);
`

func (r *postgresRegistry) migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, videosSchema); err != nil {
		return fmt.Errorf("apply videos schema: %w", err)
	}
	return nil
}

func (r *postgresRegistry) queryContext() (context.Context, context.CancelFunc) {
	timeout := r.cfg.QueryTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}

func (r *postgresRegistry) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close releases the pool; bounded by ctx like the rest of shutdown.
func (r *postgresRegistry) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

const videoColumns = `id, title, description, owner_id, source_filename, source_ref,
size_bytes, checksum, duration_seconds, status, manifest_ref, thumbnail_ref,
renditions, error, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVideo(row rowScanner) (models.Video, error) {
	var video models.Video
	var status string
	var renditions []byte
	err := row.Scan(
		&video.ID, &video.Title, &video.Description, &video.OwnerID,
		&video.SourceFilename, &video.SourceRef, &video.SizeBytes,
		&video.Checksum, &video.DurationSeconds, &status,
		&video.ManifestRef, &video.ThumbnailRef, &renditions,
		&video.Error, &video.CreatedAt, &video.UpdatedAt,
	)
	if err != nil {
		return models.Video{}, err
	}
	video.Status = models.Status(status)
	if len(renditions) > 0 {
		if err := json.Unmarshal(renditions, &video.Renditions); err != nil {
			return models.Video{}, fmt.Errorf("decode renditions for %s: %w", video.ID, err)
		}
	}
	return video, nil
}

func (r *postgresRegistry) CreateVideo(params CreateVideoParams) (models.Video, error) {
	id := strings.TrimSpace(params.ID)
	if id == "" {
		generated, err := GenerateID()
		if err != nil {
			return models.Video{}, err
		}
		id = generated
	}
	if strings.TrimSpace(params.SourceRef) == "" {
		return models.Video{}, errors.New("sourceRef is required")
	}

	now := time.Now().UTC()
	video := models.Video{
		ID:             id,
		Title:          strings.TrimSpace(params.Title),
		Description:    strings.TrimSpace(params.Description),
		OwnerID:        strings.TrimSpace(params.OwnerID),
		SourceFilename: strings.TrimSpace(params.SourceFilename),
		SourceRef:      strings.TrimSpace(params.SourceRef),
		SizeBytes:      params.SizeBytes,
		Checksum:       params.Checksum,
		Status:         models.StatusUploading,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if video.Title == "" {
		video.Title = video.SourceFilename
	}

	ctx, cancel := r.queryContext()
	defer cancel()
	_, err := r.pool.Exec(ctx, `
INSERT INTO videos (id, title, description, owner_id, source_filename, source_ref,
    size_bytes, checksum, duration_seconds, status, manifest_ref, thumbnail_ref,
    renditions, error, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, '', '', '[]', '', $10, $10)`,
		video.ID, video.Title, video.Description, video.OwnerID,
		video.SourceFilename, video.SourceRef, video.SizeBytes,
		video.Checksum, string(video.Status), now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return models.Video{}, ErrDuplicateID
		}
		return models.Video{}, fmt.Errorf("insert video: %w", err)
	}
	return video, nil
}

func isUniqueViolation(err error) bool {
	// 23505 is the Postgres unique_violation SQLSTATE.
	return strings.Contains(err.Error(), "23505")
}

func (r *postgresRegistry) GetVideo(id string) (models.Video, bool) {
	ctx, cancel := r.queryContext()
	defer cancel()
	row := r.pool.QueryRow(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = $1`, id)
	video, err := scanVideo(row)
	if err != nil {
		return models.Video{}, false
	}
	return video, true
}

func (r *postgresRegistry) UpdateVideo(id string, update VideoUpdate) (models.Video, error) {
	ctx, cancel := r.queryContext()
	defer cancel()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Video{}, fmt.Errorf("begin update: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	row := tx.QueryRow(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = $1 FOR UPDATE`, id)
	video, err := scanVideo(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Video{}, ErrNotFound
		}
		return models.Video{}, fmt.Errorf("load video %s: %w", id, err)
	}

	updated, err := applyVideoUpdate(video, update, time.Now().UTC())
	if err != nil {
		return models.Video{}, err
	}

	renditions, err := json.Marshal(updated.Renditions)
	if err != nil {
		return models.Video{}, fmt.Errorf("encode renditions: %w", err)
	}
	if updated.Renditions == nil {
		renditions = []byte("[]")
	}

	_, err = tx.Exec(ctx, `
UPDATE videos SET duration_seconds = $2, status = $3, manifest_ref = $4,
    thumbnail_ref = $5, renditions = $6, error = $7, updated_at = $8
WHERE id = $1`,
		updated.ID, updated.DurationSeconds, string(updated.Status),
		updated.ManifestRef, updated.ThumbnailRef, renditions,
		updated.Error, updated.UpdatedAt,
	)
	if err != nil {
		return models.Video{}, fmt.Errorf("update video %s: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Video{}, fmt.Errorf("commit update: %w", err)
	}
	return updated, nil
}

func (r *postgresRegistry) ListVideos(filter VideoFilter) ([]models.Video, int, error) {
	filter = filter.normalize()

	where := make([]string, 0, 3)
	args := make([]any, 0, 5)
	if filter.OwnerID != "" {
		args = append(args, filter.OwnerID)
		where = append(where, fmt.Sprintf("owner_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Query != "" {
		args = append(args, "%"+filter.Query+"%")
		where = append(where, fmt.Sprintf("(title ILIKE $%d OR description ILIKE $%d)", len(args), len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	ctx, cancel := r.queryContext()
	defer cancel()

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM videos`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count videos: %w", err)
	}

	args = append(args, filter.PageSize, (filter.Page-1)*filter.PageSize)
	query := fmt.Sprintf(`SELECT `+videoColumns+` FROM videos%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		clause, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list videos: %w", err)
	}
	defer rows.Close()

	videos := make([]models.Video, 0, filter.PageSize)
	for rows.Next() {
		video, err := scanVideo(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan video: %w", err)
		}
		videos = append(videos, video)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate videos: %w", err)
	}
	return videos, total, nil
}

func (r *postgresRegistry) DeleteVideo(id string) error {
	ctx, cancel := r.queryContext()
	defer cancel()
	tag, err := r.pool.Exec(ctx, `DELETE FROM videos WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete video %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
