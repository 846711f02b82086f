package storage

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"lumeroo/internal/models"
)

const (
	passwordHashSaltLength = 16
	passwordHashKeyLength  = 32
	passwordHashIterations = 120000
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrDuplicateSlug is returned when a video or image slug is already
	// taken. The upload pipeline maps it to HTTP 409.
	ErrDuplicateSlug = errors.New("slug already exists")
	ErrNotFound      = errors.New("record not found")
)

type dataset struct {
	Users  map[string]models.User     `json:"users"`
	Videos map[string]models.Video    `json:"videos"`
	Images map[string]models.ImageSet `json:"images"`
}

func newDataset() dataset {
	return dataset{
		Users:  make(map[string]models.User),
		Videos: make(map[string]models.Video),
		Images: make(map[string]models.ImageSet),
	}
}

// Storage is the JSON-file repository. Every mutation works on a cloned
// dataset, persists it atomically, and only then swaps it in, so a failed
// write never leaves partially applied state in memory or on disk.
type Storage struct {
	mu       sync.RWMutex
	filePath string
	data     dataset
	// persistOverride allows tests to intercept persist operations.
	persistOverride func(dataset) error
}

func NewStorage(path string) (*Storage, error) {
	store := &Storage{filePath: path}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Storage) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	file, err := os.Open(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		s.data = newDataset()
		return nil
	} else if err != nil {
		return fmt.Errorf("open store file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&s.data); err != nil {
		if errors.Is(err, io.EOF) {
			s.data = newDataset()
			return nil
		}
		return fmt.Errorf("decode store file: %w", err)
	}

	if s.data.Users == nil {
		s.data.Users = make(map[string]models.User)
	}
	if s.data.Videos == nil {
		s.data.Videos = make(map[string]models.Video)
	}
	if s.data.Images == nil {
		s.data.Images = make(map[string]models.ImageSet)
	}
	return nil
}

func (s *Storage) persistDataset(data dataset) error {
	if s.persistOverride != nil {
		if err := s.persistOverride(data); err != nil {
			return err
		}
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "store-*.json")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encode store file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("flush store file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp store file: %w", err)
	}

	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	success = true
	return nil
}

func cloneDataset(src dataset) dataset {
	clone := newDataset()
	for id, user := range src.Users {
		clone.Users[id] = user
	}
	for id, video := range src.Videos {
		cloned := video
		if video.Tags != nil {
			cloned.Tags = append([]string(nil), video.Tags...)
		}
		clone.Videos[id] = cloned
	}
	for id, set := range src.Images {
		cloned := set
		if set.Tags != nil {
			cloned.Tags = append([]string(nil), set.Tags...)
		}
		if set.ImageURLs != nil {
			cloned.ImageURLs = append([]string(nil), set.ImageURLs...)
		}
		clone.Images[id] = cloned
	}
	return clone
}

// CreateUser provisions an account with a pbkdf2-hashed password.
func (s *Storage) CreateUser(params CreateUserParams) (models.User, error) {
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

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.data.Users {
		if existing.Email == email {
			return models.User{}, errors.New("email already registered")
		}
		if strings.EqualFold(existing.Username, username) {
			return models.User{}, errors.New("username already taken")
		}
	}

	id, err := generateID()
	if err != nil {
		return models.User{}, err
	}
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

	updated := cloneDataset(s.data)
	updated.Users[user.ID] = user
	if err := s.persistDataset(updated); err != nil {
		return models.User{}, err
	}
	s.data = updated
	return user, nil
}

// AuthenticateUser verifies credentials and returns the matching user on success.
func (s *Storage) AuthenticateUser(email, password string) (models.User, error) {
	if password == "" {
		return models.User{}, errors.New("password is required")
	}
	user, ok := s.FindUserByEmail(email)
	if !ok {
		return models.User{}, ErrInvalidCredentials
	}
	if err := verifyPassword(user.PasswordHash, password); err != nil {
		return models.User{}, err
	}
	return user, nil
}

func (s *Storage) GetUser(id string) (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.data.Users[id]
	return user, ok
}

// FindUserByEmail looks up a user by their normalized email address.
func (s *Storage) FindUserByEmail(email string) (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	normalized := strings.TrimSpace(strings.ToLower(email))
	for _, user := range s.data.Users {
		if user.Email == normalized {
			return user, true
		}
	}
	return models.User{}, false
}

func (s *Storage) ListUsers() []models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]models.User, 0, len(s.data.Users))
	for _, user := range s.data.Users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	return users
}

// UpdateUser mutates account fields while enforcing uniqueness constraints.
func (s *Storage) UpdateUser(id string, update UserUpdate) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := cloneDataset(s.data)
	user, ok := updated.Users[id]
	if !ok {
		return models.User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}

	if update.Username != nil {
		username := strings.TrimSpace(*update.Username)
		if username == "" {
			return models.User{}, errors.New("username cannot be empty")
		}
		for otherID, other := range updated.Users {
			if otherID != id && strings.EqualFold(other.Username, username) {
				return models.User{}, errors.New("username already taken")
			}
		}
		user.Username = username
	}
	if update.Email != nil {
		email, err := normalizeEmail(*update.Email)
		if err != nil {
			return models.User{}, err
		}
		for otherID, other := range updated.Users {
			if otherID != id && other.Email == email {
				return models.User{}, errors.New("email already registered")
			}
		}
		user.Email = email
	}
	if update.Password != nil {
		if len(*update.Password) < 8 {
			return models.User{}, errors.New("password must be at least 8 characters")
		}
		hash, err := hashPassword(*update.Password)
		if err != nil {
			return models.User{}, err
		}
		user.PasswordHash = hash
	}
	if update.AvatarURL != nil {
		user.AvatarURL = strings.TrimSpace(*update.AvatarURL)
	}
	if update.IsAdmin != nil {
		user.IsAdmin = *update.IsAdmin
	}
	user.UpdatedAt = time.Now().UTC()

	updated.Users[id] = user
	if err := s.persistDataset(updated); err != nil {
		return models.User{}, err
	}
	s.data = updated
	return user, nil
}

func (s *Storage) DeleteUser(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Users[id]; !ok {
		return fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	updated := cloneDataset(s.data)
	delete(updated.Users, id)
	if err := s.persistDataset(updated); err != nil {
		return err
	}
	s.data = updated
	return nil
}

// CreateVideo persists a packaged upload, enforcing slug uniqueness.
func (s *Storage) CreateVideo(params CreateVideoParams) (models.Video, error) {
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

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.data.Videos {
		if existing.Slug == slug {
			return models.Video{}, ErrDuplicateSlug
		}
	}

	id, err := generateID()
	if err != nil {
		return models.Video{}, err
	}
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

	updated := cloneDataset(s.data)
	updated.Videos[video.ID] = video
	if err := s.persistDataset(updated); err != nil {
		return models.Video{}, err
	}
	s.data = updated
	return video, nil
}

func (s *Storage) GetVideo(id string) (models.Video, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	video, ok := s.data.Videos[id]
	return video, ok
}

func (s *Storage) GetVideoBySlug(slug string) (models.Video, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, video := range s.data.Videos {
		if video.Slug == slug {
			return video, true
		}
	}
	return models.Video{}, false
}

func (s *Storage) VideoSlugTaken(slug string) bool {
	_, taken := s.GetVideoBySlug(slug)
	return taken
}

// ListVideos returns all records, newest first.
func (s *Storage) ListVideos() []models.Video {
	s.mu.RLock()
	defer s.mu.RUnlock()
	videos := make([]models.Video, 0, len(s.data.Videos))
	for _, video := range s.data.Videos {
		videos = append(videos, video)
	}
	sort.Slice(videos, func(i, j int) bool {
		return videos[i].CreatedAt.After(videos[j].CreatedAt)
	})
	return videos
}

func (s *Storage) DeleteVideo(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Videos[id]; !ok {
		return fmt.Errorf("video %s: %w", id, ErrNotFound)
	}
	updated := cloneDataset(s.data)
	delete(updated.Videos, id)
	if err := s.persistDataset(updated); err != nil {
		return err
	}
	s.data = updated
	return nil
}

// CreateImageSet persists a converted image upload, enforcing slug uniqueness.
func (s *Storage) CreateImageSet(params CreateImageSetParams) (models.ImageSet, error) {
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

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.data.Images {
		if existing.Slug == slug {
			return models.ImageSet{}, ErrDuplicateSlug
		}
	}

	id, err := generateID()
	if err != nil {
		return models.ImageSet{}, err
	}
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

	updated := cloneDataset(s.data)
	updated.Images[set.ID] = set
	if err := s.persistDataset(updated); err != nil {
		return models.ImageSet{}, err
	}
	s.data = updated
	return set, nil
}

func (s *Storage) GetImageSet(id string) (models.ImageSet, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.data.Images[id]
	return set, ok
}

func (s *Storage) GetImageSetBySlug(slug string) (models.ImageSet, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, set := range s.data.Images {
		if set.Slug == slug {
			return set, true
		}
	}
	return models.ImageSet{}, false
}

func (s *Storage) ImageSlugTaken(slug string) bool {
	_, taken := s.GetImageSetBySlug(slug)
	return taken
}

func (s *Storage) ListImageSets() []models.ImageSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sets := make([]models.ImageSet, 0, len(s.data.Images))
	for _, set := range s.data.Images {
		sets = append(sets, set)
	}
	sort.Slice(sets, func(i, j int) bool {
		return sets[i].CreatedAt.After(sets[j].CreatedAt)
	})
	return sets
}

func (s *Storage) DeleteImageSet(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Images[id]; !ok {
		return fmt.Errorf("image set %s: %w", id, ErrNotFound)
	}
	updated := cloneDataset(s.data)
	delete(updated.Images, id)
	if err := s.persistDataset(updated); err != nil {
		return err
	}
	s.data = updated
	return nil
}

func normalizeEmail(email string) (string, error) {
	trimmed := strings.TrimSpace(strings.ToLower(email))
	if trimmed == "" {
		return "", errors.New("email is required")
	}
	if _, err := mail.ParseAddress(trimmed); err != nil {
		return "", errors.New("email is invalid")
	}
	return trimmed, nil
}

func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	normalized := make([]string, 0, len(tags))
	seen := make(map[string]struct{})
	for _, tag := range tags {
		trimmed := strings.TrimSpace(tag)
		if trimmed == "" {
			continue
		}
		key := strings.ToLower(trimmed)
		if _, exists := seen[key]; exists {
			continue
		}
		seen[key] = struct{}{}
		normalized = append(normalized, trimmed)
	}
	if len(normalized) == 0 {
		return nil
	}
	return normalized
}

func hashPassword(password string) (string, error) {
	salt := make([]byte, passwordHashSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	derived := pbkdf2.Key([]byte(password), salt, passwordHashIterations, passwordHashKeyLength, sha256.New)
	encodedSalt := base64.RawStdEncoding.EncodeToString(salt)
	encodedKey := base64.RawStdEncoding.EncodeToString(derived)
	return fmt.Sprintf("pbkdf2$sha256$%d$%s$%s", passwordHashIterations, encodedSalt, encodedKey), nil
}

func verifyPassword(encodedHash, candidate string) error {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 5 {
		return fmt.Errorf("verify password: invalid hash format")
	}
	if parts[0] != "pbkdf2" || parts[1] != "sha256" {
		return fmt.Errorf("verify password: unsupported hash identifier")
	}
	iterations, err := strconv.Atoi(parts[2])
	if err != nil || iterations <= 0 {
		return fmt.Errorf("verify password: invalid iteration count")
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return fmt.Errorf("verify password: decode salt: %w", err)
	}
	storedKey, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return fmt.Errorf("verify password: decode hash: %w", err)
	}
	derived := pbkdf2.Key([]byte(candidate), salt, iterations, len(storedKey), sha256.New)
	if len(derived) != len(storedKey) || subtle.ConstantTimeCompare(derived, storedKey) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}

var _ Repository = (*Storage)(nil)
