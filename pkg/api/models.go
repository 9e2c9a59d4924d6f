package api

import "github.com/Sternrassler/giffun-client/pkg/cache"

// Feed is one posted GIF.
type Feed struct {
	FeedID       int64  `json:"feed_id"`
	Cover        string `json:"cover"`
	GIF          string `json:"gif"`
	Content      string `json:"content"`
	ImgWidth     int    `json:"img_width"`
	ImgHeight    int    `json:"img_height"`
	UserID       int64  `json:"user_id"`
	Nickname     string `json:"nickname"`
	Avatar       string `json:"avatar"`
	BgImage      string `json:"bg_image"`
	PostDate     int64  `json:"post_date"`
	FSize        int64  `json:"fsize"`
	LikesCount   int    `json:"likes_count"`
	LikedAlready bool   `json:"liked_already"`
}

// ItemID implements feed.Item.
func (f Feed) ItemID() int64 { return f.FeedID }

// CoverKey returns the image cache key of the cover.
func (f Feed) CoverKey() string { return cache.ImageKey(f.Cover) }

// GIFKey returns the image cache key of the animation.
func (f Feed) GIFKey() string { return cache.ImageKey(f.GIF) }

// Comment is a comment below a feed.
type Comment struct {
	CommentID   int64  `json:"comment_id"`
	Content     string `json:"content"`
	UserID      int64  `json:"user_id"`
	Nickname    string `json:"nickname"`
	Avatar      string `json:"avatar"`
	BgImage     string `json:"bg_image"`
	PostDate    int64  `json:"post_date"`
	GoodsCount  int    `json:"goods_count"`
	GoodAlready bool   `json:"good_already"`
}

// ItemID implements feed.Item.
func (c Comment) ItemID() int64 { return c.CommentID }

// User is a public profile.
type User struct {
	UserID          int64  `json:"user_id"`
	Nickname        string `json:"nickname"`
	Avatar          string `json:"avatar"`
	BgImage         string `json:"bg_image"`
	Description     string `json:"description"`
	FollowersCount  int    `json:"followers_count"`
	FollowingsCount int    `json:"followings_count"`
	FeedsCount      int    `json:"feeds_count"`
	IsFollowing     bool   `json:"is_following"`
}

// ItemID implements feed.Item.
func (u User) ItemID() int64 { return u.UserID }

// AvatarKey returns the image cache key of the avatar.
func (u User) AvatarKey() string { return cache.ImageKey(u.Avatar) }

// UserProfile is the first page of a user's feeds together with the
// profile fields the backend sends next to it.
type UserProfile struct {
	User
	Feeds []Feed `json:"data"`
}

// FeedDetails holds the per-viewer state of a feed and its hot comments.
type FeedDetails struct {
	Comments    []Comment `json:"data"`
	LikesCount  int       `json:"likes_count"`
	IsLiked     bool      `json:"is_liked"`
	IsFollowing bool      `json:"is_following"`
}

// ReportReason is what a user report complains about.
type ReportReason int

// Report reasons understood by /report/user.
const (
	ReasonAvatar      ReportReason = 1
	ReasonBackground  ReportReason = 2
	ReasonNickname    ReportReason = 3
	ReasonDescription ReportReason = 4
	ReasonOther       ReportReason = 5
)

// Valid reports whether r is a known reason.
func (r ReportReason) Valid() bool {
	return r >= ReasonAvatar && r <= ReasonOther
}
