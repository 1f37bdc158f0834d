package twitter

import (
	"strings"
	"time"

	"github.com/lisanmuaddib/profilegraph/pkg/interfaces/upstream"
)

// createdAtLayout is the timestamp format of the v1.1 API
const createdAtLayout = time.RubyDate

// User is a v1.1 user object as returned by users/lookup
type User struct {
	IDStr                string  `json:"id_str"`
	ScreenName           string  `json:"screen_name"`
	Name                 string  `json:"name"`
	Description          string  `json:"description"`
	URL                  *string `json:"url"`
	CreatedAt            string  `json:"created_at"`
	Location             string  `json:"location"`
	FollowersCount       int     `json:"followers_count"`
	FriendsCount         int     `json:"friends_count"`
	StatusesCount        int     `json:"statuses_count"`
	Protected            bool    `json:"protected"`
	TimeZone             *string `json:"time_zone"`
	Lang                 *string `json:"lang"`
	ProfileImageURLHTTPS string  `json:"profile_image_url_https"`
}

// ToProfileData converts the API object into the shared profile shape
func (u User) ToProfileData() upstream.ProfileData {
	data := upstream.ProfileData{
		UpstreamID:    u.IDStr,
		Username:      u.ScreenName,
		Name:          u.Name,
		Description:   u.Description,
		Homepage:      deref(u.URL),
		Location:      u.Location,
		FollowerCount: u.FollowersCount,
		FriendCount:   u.FriendsCount,
		PostCount:     u.StatusesCount,
		Private:       u.Protected,
		TimeZone:      deref(u.TimeZone),
		Lang:          deref(u.Lang),
		AvatarURL:     u.ProfileImageURLHTTPS,
	}

	if joined, err := time.Parse(createdAtLayout, u.CreatedAt); err == nil {
		data.JoinDate = &joined
	}

	return data
}

// Tweet is a v1.1 status object as returned by statuses/user_timeline
type Tweet struct {
	IDStr       string       `json:"id_str"`
	CreatedAt   string       `json:"created_at"`
	Text        string       `json:"text"`
	FullText    string       `json:"full_text"`
	Lang        *string      `json:"lang"`
	Coordinates *Coordinates `json:"coordinates"`
	Place       *Place       `json:"place"`
	Entities    struct {
		Media []Media `json:"media"`
	} `json:"entities"`
	ExtendedEntities struct {
		Media []Media `json:"media"`
	} `json:"extended_entities"`
}

// Coordinates is a GeoJSON point, ordered longitude then latitude
type Coordinates struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// Place is the named location a tweet was tagged with
type Place struct {
	FullName    string `json:"full_name"`
	Country     string `json:"country"`
	BoundingBox struct {
		Coordinates [][][]float64 `json:"coordinates"`
	} `json:"bounding_box"`
}

// Media is an attached photo or video thumbnail
type Media struct {
	MediaURLHTTPS string `json:"media_url_https"`
}

// ToPostData converts the API object into the shared post shape
func (t Tweet) ToPostData() upstream.PostData {
	post := upstream.PostData{
		UpstreamID: t.IDStr,
		Content:    t.Text,
		Language:   deref(t.Lang),
	}

	if t.FullText != "" {
		post.Content = t.FullText
	}

	if created, err := time.Parse(createdAtLayout, t.CreatedAt); err == nil {
		post.Created = created
	}

	if t.Coordinates != nil && len(t.Coordinates.Coordinates) == 2 {
		lon, lat := t.Coordinates.Coordinates[0], t.Coordinates.Coordinates[1]
		post.Longitude, post.Latitude = &lon, &lat
	}

	// A tagged place wins over the exact point
	if t.Place != nil {
		if lon, lat, ok := t.Place.centroid(); ok {
			post.Longitude, post.Latitude = &lon, &lat
		}
		post.Location = strings.Trim(t.Place.FullName+", "+t.Place.Country, ", ")
	}

	media := t.ExtendedEntities.Media
	if len(media) == 0 {
		media = t.Entities.Media
	}
	for _, m := range media {
		if m.MediaURLHTTPS != "" {
			post.AttachmentURLs = append(post.AttachmentURLs, m.MediaURLHTTPS)
		}
	}

	return post
}

// centroid averages the vertices of the first bounding polygon
func (p Place) centroid() (lon, lat float64, ok bool) {
	if len(p.BoundingBox.Coordinates) == 0 {
		return 0, 0, false
	}

	var n int
	for _, point := range p.BoundingBox.Coordinates[0] {
		if len(point) != 2 {
			continue
		}
		lon += point[0]
		lat += point[1]
		n++
	}

	if n == 0 {
		return 0, 0, false
	}
	return lon / float64(n), lat / float64(n), true
}

// IDsPage is a page of friends/ids or followers/ids
type IDsPage struct {
	IDs           []string `json:"ids"`
	NextCursorStr string   `json:"next_cursor_str"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
