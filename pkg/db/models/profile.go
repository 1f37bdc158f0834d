package models

import (
	"time"
)

// Site identifies the social media platform a profile lives on
type Site string

const (
	SiteTwitter   Site = "twitter"
	SiteInstagram Site = "instagram"
)

// Sites lists every supported platform
var Sites = []Site{SiteTwitter, SiteInstagram}

// Valid reports whether s is a supported platform
func (s Site) Valid() bool {
	for _, site := range Sites {
		if s == site {
			return true
		}
	}
	return false
}

// DisplayName is the platform name used in user facing messages
func (s Site) DisplayName() string {
	switch s {
	case SiteTwitter:
		return "Twitter"
	case SiteInstagram:
		return "Instagram"
	default:
		return string(s)
	}
}

// Profile represents one account on one site. (site, upstream_id) is the
// reconciliation key and is immutable once set.
type Profile struct {
	ID         uint   `gorm:"primaryKey;column:id" json:"id"`
	Site       Site   `gorm:"column:site;type:profile_site;not null;uniqueIndex:idx_profile_site_upstream" json:"site"`
	UpstreamID string `gorm:"column:upstream_id;size:255;not null;uniqueIndex:idx_profile_site_upstream" json:"upstream_id"`
	Username   string `gorm:"column:username;size:255;index" json:"username"`
	IsStub     bool   `gorm:"column:is_stub;not null;default:false" json:"is_stub"`

	// Bio
	Name          string     `gorm:"column:name" json:"name"`
	Description   string     `gorm:"column:description" json:"description"`
	Homepage      string     `gorm:"column:homepage" json:"homepage"`
	JoinDate      *time.Time `gorm:"column:join_date" json:"join_date,omitempty"`
	FollowerCount int        `gorm:"column:follower_count;default:0" json:"follower_count"`
	FriendCount   int        `gorm:"column:friend_count;default:0" json:"friend_count"`
	PostCount     int        `gorm:"column:post_count;default:0" json:"post_count"`
	Lang          string     `gorm:"column:lang" json:"lang"`
	Location      string     `gorm:"column:location" json:"location"`
	TimeZone      string     `gorm:"column:time_zone" json:"time_zone"`
	Private       bool       `gorm:"column:private;not null;default:false" json:"private"`

	// Owned by the REST layer
	IsInteresting *bool `gorm:"column:is_interesting" json:"is_interesting,omitempty"`

	LastUpdate time.Time `gorm:"column:last_update;not null" json:"last_update"`

	Usernames []ProfileUsername `gorm:"foreignKey:ProfileID;constraint:OnDelete:CASCADE" json:"-"`
	Labels    []Label           `gorm:"many2many:label_join_profile;constraint:OnDelete:CASCADE" json:"-"`
	Posts     []Post            `gorm:"foreignKey:AuthorID;constraint:OnDelete:CASCADE" json:"-"`
	Avatars   []Avatar          `gorm:"foreignKey:ProfileID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName specifies the table name for the Profile model
func (Profile) TableName() string {
	return "profile"
}

// ProfileUsername is one historical username of a profile, valid over
// [StartDate, EndDate). A nil EndDate marks the current username.
type ProfileUsername struct {
	ID        uint       `gorm:"primaryKey;column:id"`
	ProfileID uint       `gorm:"column:profile_id;not null;uniqueIndex:idx_username_profile"`
	Username  string     `gorm:"column:username;size:255;not null;uniqueIndex:idx_username_profile"`
	StartDate time.Time  `gorm:"column:start_date;not null"`
	EndDate   *time.Time `gorm:"column:end_date"`
}

// TableName specifies the table name for the ProfileUsername model
func (ProfileUsername) TableName() string {
	return "profile_name"
}

// Relationship is a directed edge: Follower follows Friend.
// Edges are append only.
type Relationship struct {
	FollowerID uint `gorm:"primaryKey;column:follower_id;autoIncrement:false"`
	FriendID   uint `gorm:"primaryKey;column:friend_id;autoIncrement:false;index"`

	Follower Profile `gorm:"foreignKey:FollowerID;constraint:OnDelete:CASCADE"`
	Friend   Profile `gorm:"foreignKey:FriendID;constraint:OnDelete:CASCADE"`
}

// TableName specifies the table name for the Relationship model
func (Relationship) TableName() string {
	return "profile_join_self"
}

// Label is a normalized tag attachable to profiles
type Label struct {
	ID   uint   `gorm:"primaryKey;column:id"`
	Name string `gorm:"column:name;size:255;not null;uniqueIndex"`
}

// TableName specifies the table name for the Label model
func (Label) TableName() string {
	return "label"
}
