package instagram

import (
	"strconv"
	"strings"
	"time"

	"github.com/lisanmuaddib/profilegraph/pkg/interfaces/upstream"
)

type pagination struct {
	NextMaxID  string `json:"next_max_id"`
	NextCursor string `json:"next_cursor"`
}

// User is the full account object returned by users/{id}
type User struct {
	ID             string `json:"id"`
	Username       string `json:"username"`
	FullName       string `json:"full_name"`
	Bio            string `json:"bio"`
	Website        string `json:"website"`
	ProfilePicture string `json:"profile_picture"`
	Counts         struct {
		Media      int `json:"media"`
		Follows    int `json:"follows"`
		FollowedBy int `json:"followed_by"`
	} `json:"counts"`
}

func (u User) ToProfileData() upstream.ProfileData {
	return upstream.ProfileData{
		UpstreamID:    u.ID,
		Username:      u.Username,
		Name:          u.FullName,
		Description:   u.Bio,
		Homepage:      u.Website,
		FollowerCount: u.Counts.FollowedBy,
		FriendCount:   u.Counts.Follows,
		PostCount:     u.Counts.Media,
		AvatarURL:     u.ProfilePicture,
	}
}

// UserSummary is the abbreviated account object in search and relation lists
type UserSummary struct {
	ID             string `json:"id"`
	Username       string `json:"username"`
	FullName       string `json:"full_name"`
	ProfilePicture string `json:"profile_picture"`
}

func (u UserSummary) ToProfileData() upstream.ProfileData {
	return upstream.ProfileData{
		UpstreamID: u.ID,
		Username:   u.Username,
		Name:       u.FullName,
		AvatarURL:  u.ProfilePicture,
		Summary:    true,
	}
}

// Media is one item from users/{id}/media/recent
type Media struct {
	ID          string `json:"id"`
	CreatedTime string `json:"created_time"`
	Caption     *struct {
		Text string `json:"text"`
	} `json:"caption"`
	Location *struct {
		Latitude      *float64 `json:"latitude"`
		Longitude     *float64 `json:"longitude"`
		Name          string   `json:"name"`
		StreetAddress string   `json:"street_address"`
	} `json:"location"`
	Images *struct {
		StandardResolution struct {
			URL string `json:"url"`
		} `json:"standard_resolution"`
	} `json:"images"`
}

func (m Media) ToPostData() upstream.PostData {
	post := upstream.PostData{UpstreamID: m.ID}

	if seconds, err := strconv.ParseInt(m.CreatedTime, 10, 64); err == nil {
		post.Created = time.Unix(seconds, 0).UTC()
	}
	if m.Caption != nil {
		post.Content = m.Caption.Text
	}
	if m.Location != nil {
		post.Latitude = m.Location.Latitude
		post.Longitude = m.Location.Longitude
		post.Location = strings.TrimSpace(m.Location.Name + " " + m.Location.StreetAddress)
	}
	if m.Images != nil && m.Images.StandardResolution.URL != "" {
		post.AttachmentURLs = []string{m.Images.StandardResolution.URL}
	}

	return post
}

type userResponse struct {
	Data User `json:"data"`
}

type searchResponse struct {
	Data []UserSummary `json:"data"`
}

type mediaResponse struct {
	Data       []Media    `json:"data"`
	Pagination pagination `json:"pagination"`
}

type relationsResponse struct {
	Data       []UserSummary `json:"data"`
	Pagination pagination    `json:"pagination"`
}
