package storage

import "lumeroo/internal/models"

// CreateUserParams captures the inputs required to provision a user account.
type CreateUserParams struct {
	Username string
	Email    string
	Password string
	IsAdmin  bool
}

// UserUpdate represents the fields that can be modified for an existing user.
// Nil pointers leave the current value untouched.
type UserUpdate struct {
	Username  *string
	Email     *string
	Password  *string
	AvatarURL *string
	IsAdmin   *bool
}

// CreateVideoParams captures a fully packaged upload ready for persistence.
type CreateVideoParams struct {
	Slug        string
	Title       string
	Description string
	Tags        []string
	VideoURL    string
	Thumbnail   string
	Duration    int
	UploaderID  string
}

// CreateImageSetParams captures a converted image upload ready for
// persistence.
type CreateImageSetParams struct {
	Slug           string
	Title          string
	Description    string
	Tags           []string
	ImageURLs      []string
	ThumbnailIndex int
	UploaderID     string
}

// Repository abstracts the persistence backend so handlers and the pipeline
// can run against the JSON file store or Postgres interchangeably.
type Repository interface {
	CreateUser(params CreateUserParams) (models.User, error)
	AuthenticateUser(email, password string) (models.User, error)
	GetUser(id string) (models.User, bool)
	FindUserByEmail(email string) (models.User, bool)
	ListUsers() []models.User
	UpdateUser(id string, update UserUpdate) (models.User, error)
	DeleteUser(id string) error

	CreateVideo(params CreateVideoParams) (models.Video, error)
	GetVideo(id string) (models.Video, bool)
	GetVideoBySlug(slug string) (models.Video, bool)
	VideoSlugTaken(slug string) bool
	ListVideos() []models.Video
	DeleteVideo(id string) error

	CreateImageSet(params CreateImageSetParams) (models.ImageSet, error)
	GetImageSet(id string) (models.ImageSet, bool)
	GetImageSetBySlug(slug string) (models.ImageSet, bool)
	ImageSlugTaken(slug string) bool
	ListImageSets() []models.ImageSet
	DeleteImageSet(id string) error
}
