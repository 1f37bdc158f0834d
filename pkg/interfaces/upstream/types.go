package upstream

import "time"

// ProfileQuery selects accounts either by username or by upstream id.
// Exactly one of the two lists is set.
type ProfileQuery struct {
	Usernames   []string
	UpstreamIDs []string
}

// Len returns the number of identifiers in the query
func (q ProfileQuery) Len() int {
	return len(q.Usernames) + len(q.UpstreamIDs)
}

// Identifiers returns whichever identifier list is set
func (q ProfileQuery) Identifiers() []string {
	if len(q.Usernames) > 0 {
		return q.Usernames
	}
	return q.UpstreamIDs
}

// ProfileData is an account as reported by the upstream site
type ProfileData struct {
	UpstreamID    string
	Username      string
	Name          string
	Description   string
	Homepage      string
	JoinDate      *time.Time
	FollowerCount int
	FriendCount   int
	PostCount     int
	Lang          string
	Location      string
	TimeZone      string
	Private       bool
	AvatarURL     string

	// Summary is set when only the username and name are known, as with
	// accounts listed inside a relation page.
	Summary bool
}

// PostData is one post as reported by the upstream site
type PostData struct {
	UpstreamID     string
	Created        time.Time
	Content        string
	Language       string
	Latitude       *float64
	Longitude      *float64
	Location       string
	AttachmentURLs []string
}

// PostsQuery bounds one page request for an author's posts.
// SinceID and MaxID come from already stored posts; PageToken is the
// NextToken of the previous page.
type PostsQuery struct {
	AuthorUpstreamID string
	SinceID          string
	MaxID            string
	PageToken        string
	Limit            int
}

// PostsPage is one page of an author's posts, newest first
type PostsPage struct {
	Posts     []PostData
	NextToken string
	// Done is set when the upstream signals there are no more pages
	Done bool
}

// RelationKind selects which side of the follow graph to list
type RelationKind string

const (
	// RelationFriends lists accounts the profile follows
	RelationFriends RelationKind = "friends"
	// RelationFollowers lists accounts following the profile
	RelationFollowers RelationKind = "followers"
)

// RelationsPage is one page of a relation list. Sites that only return
// identifiers fill IDs; sites that return account summaries fill Profiles.
type RelationsPage struct {
	IDs        []string
	Profiles   []ProfileData
	NextCursor string
	Done       bool
}

// Blob is a downloaded binary resource
type Blob struct {
	URL     string
	Mime    string
	Content []byte
}
