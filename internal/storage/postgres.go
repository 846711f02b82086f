package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"lumeroo/internal/models"
)

const pgUniqueViolation = "23505"

type postgresRepository struct {
	pool         *pgxpool.Pool
	queryTimeout time.Duration
}

// NewPostgresRepository opens a Postgres-backed repository and applies the
// schema migration before returning.
func NewPostgresRepository(dsn string, opts ...Option) (Repository, error) {
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
	if cfg.MinConnections >= 0 {
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
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	repo := &postgresRepository{pool: pool, queryTimeout: cfg.QueryTimeout}
	if err := repo.migrate(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

// Close drains the pool, bounded by the provided context.
func (r *postgresRepository) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
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

func (r *postgresRepository) queryContext() (context.Context, context.CancelFunc) {
	timeout := r.queryTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func (r *postgresRepository) CreateUser(params CreateUserParams) (models.User, error) {
	username := strings.TrimSpace(params.Username)
	if username == "" {
		return models.User{}, errors.New("username is required")
	}
	email, err := normalizeEmail(params.Email)
	if err != nil {
		return models.User{}, err
	}
	if len(params.Password) < 8 {
		return models.User{}, errors.New("password must be at least 8 characters")
	}
	passwordHash, err := hashPassword(params.Password)
	if err != nil {
		return models.User{}, err
	}
	id, err := generateID()
	if err != nil {
		return models.User{}, err
	}

	ctx, cancel := r.queryContext()
	defer cancel()

	now := time.Now().UTC()
	user := models.User{
		ID:           id,
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		IsAdmin:      params.IsAdmin,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO users (id, username, email, password_hash, avatar_url, is_admin, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		user.ID, user.Username, user.Email, user.PasswordHash, user.AvatarURL, user.IsAdmin, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return models.User{}, errors.New("username or email already registered")
		}
		return models.User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (r *postgresRepository) AuthenticateUser(email, password string) (models.User, error) {
	if password == "" {
		return models.User{}, errors.New("password is required")
	}
	user, ok := r.FindUserByEmail(email)
	if !ok {
		return models.User{}, ErrInvalidCredentials
	}
	if err := verifyPassword(user.PasswordHash, password); err != nil {
		return models.User{}, err
	}
	return user, nil
}

const userColumns = "id, username, email, password_hash, avatar_url, is_admin, created_at, updated_at"

func scanUser(row pgx.Row) (models.User, error) {
	var user models.User
	err := row.Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash,
		&user.AvatarURL, &user.IsAdmin, &user.CreatedAt, &user.UpdatedAt)
	return user, err
}

func (r *postgresRepository) GetUser(id string) (models.User, bool) {
	ctx, cancel := r.queryContext()
	defer cancel()
	user, err := scanUser(r.pool.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = $1", id))
	if err != nil {
		return models.User{}, false
	}
	return user, true
}

func (r *postgresRepository) FindUserByEmail(email string) (models.User, bool) {
	ctx, cancel := r.queryContext()
	defer cancel()
	normalized := strings.TrimSpace(strings.ToLower(email))
	user, err := scanUser(r.pool.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE email = $1", normalized))
	if err != nil {
		return models.User{}, false
	}
	return user, true
}

func (r *postgresRepository) ListUsers() []models.User {
	ctx, cancel := r.queryContext()
	defer cancel()
	rows, err := r.pool.Query(ctx,
		"SELECT "+userColumns+" FROM users ORDER BY created_at ASC")
	if err != nil {
		return nil
	}
	defer rows.Close()
	var users []models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil
		}
		users = append(users, user)
	}
	return users
}

func (r *postgresRepository) UpdateUser(id string, update UserUpdate) (models.User, error) {
	current, ok := r.GetUser(id)
	if !ok {
		return models.User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}

	if update.Username != nil {
		username := strings.TrimSpace(*update.Username)
		if username == "" {
			return models.User{}, errors.New("username cannot be empty")
		}
		current.Username = username
	}
	if update.Email != nil {
		email, err := normalizeEmail(*update.Email)
		if err != nil {
			return models.User{}, err
		}
		current.Email = email
	}
	if update.Password != nil {
		if len(*update.Password) < 8 {
			return models.User{}, errors.New("password must be at least 8 characters")
		}
		hash, err := hashPassword(*update.Password)
		if err != nil {
			return models.User{}, err
		}
		current.PasswordHash = hash
	}
	if update.AvatarURL != nil {
		current.AvatarURL = strings.TrimSpace(*update.AvatarURL)
	}
	if update.IsAdmin != nil {
		current.IsAdmin = *update.IsAdmin
	}
	current.UpdatedAt = time.Now().UTC()

	ctx, cancel := r.queryContext()
	defer cancel()
	_, err := r.pool.Exec(ctx, `
		UPDATE users
		SET username = $2, email = $3, password_hash = $4, avatar_url = $5, is_admin = $6, updated_at = $7
		WHERE id = $1`,
		current.ID, current.Username, current.Email, current.PasswordHash,
		current.AvatarURL, current.IsAdmin, current.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return models.User{}, errors.New("username or email already registered")
		}
		return models.User{}, fmt.Errorf("update user: %w", err)
	}
	return current, nil
}

func (r *postgresRepository) DeleteUser(id string) error {
	ctx, cancel := r.queryContext()
	defer cancel()
	tag, err := r.pool.Exec(ctx, "DELETE FROM users WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return nil
}

const videoColumns = "id, slug, title, description, tags, video_url, thumbnail, duration, uploader_id, created_at, updated_at"

func scanVideo(row pgx.Row) (models.Video, error) {
	var video models.Video
	err := row.Scan(&video.ID, &video.Slug, &video.Title, &video.Description, &video.Tags,
		&video.VideoURL, &video.Thumbnail, &video.Duration, &video.UploaderID,
		&video.CreatedAt, &video.UpdatedAt)
	return video, err
}

func (r *postgresRepository) CreateVideo(params CreateVideoParams) (models.Video, error) {
	slug := strings.TrimSpace(params.Slug)
	if slug == "" {
		return models.Video{}, errors.New("slug is required")
	}
	if strings.TrimSpace(params.Title) == "" {
		return models.Video{}, errors.New("title is required")
	}
	if params.UploaderID == "" {
		return models.Video{}, errors.New("uploaderId is required")
	}
	id, err := generateID()
	if err != nil {
		return models.Video{}, err
	}

	ctx, cancel := r.queryContext()
	defer cancel()

	now := time.Now().UTC()
	video := models.Video{
		ID:          id,
		Slug:        slug,
		Title:       strings.TrimSpace(params.Title),
		Description: strings.TrimSpace(params.Description),
		Tags:        normalizeTags(params.Tags),
		VideoURL:    params.VideoURL,
		Thumbnail:   params.Thumbnail,
		Duration:    params.Duration,
		UploaderID:  params.UploaderID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO videos (id, slug, title, description, tags, video_url, thumbnail, duration, uploader_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		video.ID, video.Slug, video.Title, video.Description, video.Tags,
		video.VideoURL, video.Thumbnail, video.Duration, video.UploaderID,
		video.CreatedAt, video.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return models.Video{}, ErrDuplicateSlug
		}
		return models.Video{}, fmt.Errorf("insert video: %w", err)
	}
	return video, nil
}

func (r *postgresRepository) GetVideo(id string) (models.Video, bool) {
	ctx, cancel := r.queryContext()
	defer cancel()
	video, err := scanVideo(r.pool.QueryRow(ctx,
		"SELECT "+videoColumns+" FROM videos WHERE id = $1", id))
	if err != nil {
		return models.Video{}, false
	}
	return video, true
}

func (r *postgresRepository) GetVideoBySlug(slug string) (models.Video, bool) {
	ctx, cancel := r.queryContext()
	defer cancel()
	video, err := scanVideo(r.pool.QueryRow(ctx,
		"SELECT "+videoColumns+" FROM videos WHERE slug = $1", slug))
	if err != nil {
		return models.Video{}, false
	}
	return video, true
}

func (r *postgresRepository) VideoSlugTaken(slug string) bool {
	_, taken := r.GetVideoBySlug(slug)
	return taken
}

func (r *postgresRepository) ListVideos() []models.Video {
	ctx, cancel := r.queryContext()
	defer cancel()
	rows, err := r.pool.Query(ctx,
		"SELECT "+videoColumns+" FROM videos ORDER BY created_at DESC")
	if err != nil {
		return nil
	}
	defer rows.Close()
	var videos []models.Video
	for rows.Next() {
		video, err := scanVideo(rows)
		if err != nil {
			return nil
		}
		videos = append(videos, video)
	}
	return videos
}

func (r *postgresRepository) DeleteVideo(id string) error {
	ctx, cancel := r.queryContext()
	defer cancel()
	tag, err := r.pool.Exec(ctx, "DELETE FROM videos WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete video: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("video %s: %w", id, ErrNotFound)
	}
	return nil
}

const imageColumns = "id, slug, title, description, tags, image_urls, thumbnail_index, uploader_id, created_at, updated_at"

func scanImageSet(row pgx.Row) (models.ImageSet, error) {
	var set models.ImageSet
	err := row.Scan(&set.ID, &set.Slug, &set.Title, &set.Description, &set.Tags,
		&set.ImageURLs, &set.ThumbnailIndex, &set.UploaderID,
		&set.CreatedAt, &set.UpdatedAt)
	return set, err
}

func (r *postgresRepository) CreateImageSet(params CreateImageSetParams) (models.ImageSet, error) {
	slug := strings.TrimSpace(params.Slug)
	if slug == "" {
		return models.ImageSet{}, errors.New("slug is required")
	}
	if strings.TrimSpace(params.Title) == "" {
		return models.ImageSet{}, errors.New("title is required")
	}
	if len(params.ImageURLs) == 0 {
		return models.ImageSet{}, errors.New("at least one image is required")
	}
	if params.ThumbnailIndex < 0 || params.ThumbnailIndex >= len(params.ImageURLs) {
		return models.ImageSet{}, errors.New("thumbnail index out of range")
	}
	if params.UploaderID == "" {
		return models.ImageSet{}, errors.New("uploaderId is required")
	}
	id, err := generateID()
	if err != nil {
		return models.ImageSet{}, err
	}

	ctx, cancel := r.queryContext()
	defer cancel()

	now := time.Now().UTC()
	set := models.ImageSet{
		ID:             id,
		Slug:           slug,
		Title:          strings.TrimSpace(params.Title),
		Description:    strings.TrimSpace(params.Description),
		Tags:           normalizeTags(params.Tags),
		ImageURLs:      append([]string(nil), params.ImageURLs...),
		ThumbnailIndex: params.ThumbnailIndex,
		UploaderID:     params.UploaderID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO images (id, slug, title, description, tags, image_urls, thumbnail_index, uploader_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		set.ID, set.Slug, set.Title, set.Description, set.Tags,
		set.ImageURLs, set.ThumbnailIndex, set.UploaderID, set.CreatedAt, set.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return models.ImageSet{}, ErrDuplicateSlug
		}
		return models.ImageSet{}, fmt.Errorf("insert image set: %w", err)
	}
	return set, nil
}

func (r *postgresRepository) GetImageSet(id string) (models.ImageSet, bool) {
	ctx, cancel := r.queryContext()
	defer cancel()
	set, err := scanImageSet(r.pool.QueryRow(ctx,
		"SELECT "+imageColumns+" FROM images WHERE id = $1", id))
	if err != nil {
		return models.ImageSet{}, false
	}
	return set, true
}

func (r *postgresRepository) GetImageSetBySlug(slug string) (models.ImageSet, bool) {
	ctx, cancel := r.queryContext()
	defer cancel()
	set, err := scanImageSet(r.pool.QueryRow(ctx,
		"SELECT "+imageColumns+" FROM images WHERE slug = $1", slug))
	if err != nil {
		return models.ImageSet{}, false
	}
	return set, true
}

func (r *postgresRepository) ImageSlugTaken(slug string) bool {
	_, taken := r.GetImageSetBySlug(slug)
	return taken
}

func (r *postgresRepository) ListImageSets() []models.ImageSet {
	ctx, cancel := r.queryContext()
	defer cancel()
	rows, err := r.pool.Query(ctx,
		"SELECT "+imageColumns+" FROM images ORDER BY created_at DESC")
	if err != nil {
		return nil
	}
	defer rows.Close()
	var sets []models.ImageSet
	for rows.Next() {
		set, err := scanImageSet(rows)
		if err != nil {
			return nil
		}
		sets = append(sets, set)
	}
	return sets
}

func (r *postgresRepository) DeleteImageSet(id string) error {
	ctx, cancel := r.queryContext()
	defer cancel()
	tag, err := r.pool.Exec(ctx, "DELETE FROM images WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete image set: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("image set %s: %w", id, ErrNotFound)
	}
	return nil
}

var _ Repository = (*postgresRepository)(nil)
