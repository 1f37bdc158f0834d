package models

import (
	"time"
)

// Post is one item authored by a profile. Posts are immutable once stored.
type Post struct {
	ID              uint      `gorm:"primaryKey;column:id" json:"id"`
	AuthorID        uint      `gorm:"column:author_id;not null;uniqueIndex:idx_post_author_upstream" json:"author_id"`
	UpstreamID      string    `gorm:"column:upstream_id;size:255;not null;uniqueIndex:idx_post_author_upstream" json:"upstream_id"`
	UpstreamCreated time.Time `gorm:"column:upstream_created;not null;index" json:"upstream_created"`
	LastUpdate      time.Time `gorm:"column:last_update;not null" json:"last_update"`
	Content         string    `gorm:"column:content" json:"content"`
	Language        string    `gorm:"column:language" json:"language"`

	// Geolocation
	Latitude  *float64 `gorm:"column:latitude" json:"latitude,omitempty"`
	Longitude *float64 `gorm:"column:longitude" json:"longitude,omitempty"`
	Location  string   `gorm:"column:location" json:"location"`

	AttachmentURLs StringArray `gorm:"column:attachment_urls" json:"attachment_urls"`
	Attachments    []File      `gorm:"many2many:file_join_post;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName specifies the table name for the Post model
func (Post) TableName() string {
	return "post"
}

// File is a stored binary blob such as an avatar or a post attachment
type File struct {
	ID      uint   `gorm:"primaryKey;column:id" json:"id"`
	Name    string `gorm:"column:name;size:255;not null" json:"name"`
	Mime    string `gorm:"column:mime;size:255;not null" json:"mime"`
	Content []byte `gorm:"column:content;type:bytea" json:"-"`
}

// TableName specifies the table name for the File model
func (File) TableName() string {
	return "file"
}

// Avatar is a profile image seen at UpstreamURL over [StartDate, EndDate]
type Avatar struct {
	ID          uint       `gorm:"primaryKey;column:id" json:"id"`
	ProfileID   uint       `gorm:"column:profile_id;not null;index" json:"profile_id"`
	FileID      uint       `gorm:"column:file_id;not null" json:"file_id"`
	ThumbFileID uint       `gorm:"column:thumb_file_id;not null" json:"thumb_file_id"`
	UpstreamURL string     `gorm:"column:upstream_url;not null" json:"upstream_url"`
	StartDate   time.Time  `gorm:"column:start_date;not null" json:"start_date"`
	EndDate     *time.Time `gorm:"column:end_date" json:"end_date,omitempty"`

	File      File `gorm:"foreignKey:FileID" json:"-"`
	ThumbFile File `gorm:"foreignKey:ThumbFileID" json:"-"`
}

// TableName specifies the table name for the Avatar model
func (Avatar) TableName() string {
	return "avatar"
}

// Configuration is one key/value pair of runtime configuration managed by
// operators.
type Configuration struct {
	Key   string `gorm:"primaryKey;column:key;size:255"`
	Value string `gorm:"column:value"`
}

// TableName specifies the table name for the Configuration model
func (Configuration) TableName() string {
	return "configuration"
}

// All returns every model managed by AutoMigrate
func All() []interface{} {
	return []interface{}{
		&Profile{},
		&ProfileUsername{},
		&Label{},
		&Relationship{},
		&File{},
		&Post{},
		&Avatar{},
		&Configuration{},
	}
}
