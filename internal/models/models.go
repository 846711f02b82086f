package models

import "time"

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"passwordHash,omitempty"`
	AvatarURL    string    `json:"avatarUrl,omitempty"`
	IsAdmin      bool      `json:"isAdmin"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Video is the persisted record for a packaged upload. VideoURL points at the
// HLS playlist and Thumbnail at the poster image, both under /stream/<slug>/.
type Video struct {
	ID          string    `json:"id"`
	Slug        string    `json:"slug"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags"`
	VideoURL    string    `json:"videoUrl"`
	Thumbnail   string    `json:"thumbnail"`
	Duration    int       `json:"duration"`
	UploaderID  string    `json:"uploaderId"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ImageSet groups the images uploaded together under one slug. ThumbnailIndex
// selects which entry of ImageURLs acts as the cover.
type ImageSet struct {
	ID             string    `json:"id"`
	Slug           string    `json:"slug"`
	Title          string    `json:"title"`
	Description    string    `json:"description,omitempty"`
	Tags           []string  `json:"tags"`
	ImageURLs      []string  `json:"imageUrls"`
	ThumbnailIndex int       `json:"thumbnailIndex"`
	UploaderID     string    `json:"uploaderId"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}
