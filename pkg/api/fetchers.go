package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/Sternrassler/giffun-client/pkg/client"
	"github.com/Sternrassler/giffun-client/pkg/feed"
)

// Request param names.
const (
	ParamLastFeed     = "last_feed"
	ParamLoadingMore  = "loading_more"
	ParamUser         = "user_id"
	ParamFeed         = "feed"
	ParamLastComment  = "last_comment"
	ParamPage         = "page"
	ParamKeyword      = "keyword"
	ParamContent      = "content"
	ParamDevice       = "device"
	ParamComment      = "comment"
	ParamFollowingIDs = "following_ids"
	ParamFollowingID  = "following_id"
	ParamReportUser   = "user"
	ParamReason       = "reason"
	ParamDescription  = "desp"
)

// Backend paths.
const (
	PathWorldFeeds     = "/feeds/world"
	PathHotFeeds       = "/feeds/hot"
	PathFollowingFeeds = "/feeds/followings"
	PathUserFeeds      = "/feeds/user"
	PathComments       = "/comments/load"
	PathFollowings     = "/user/followings"
	PathSearchFeeds    = "/search/feeds"
	PathFeedDetails    = "/feeds/details"
	PathLikeFeed       = "/feeds/like"
	PathDeleteFeed     = "/feeds/delete"
	PathPostComment    = "/comments/post"
	PathDeleteComment  = "/comments/delete"
	PathGoodComment    = "/comments/good"
	PathFollowUser     = "/user/follow"
	PathUnfollowUser   = "/user/unfollow"
	PathReportUser     = "/report/user"
)

// ErrInvalidParent is returned when a page request names a parent the list
// cannot use.
var ErrInvalidParent = errors.New("invalid parent")

// Caller performs one backend call. *client.Client implements it.
type Caller interface {
	Call(ctx context.Context, r client.Request) (*client.Envelope, error)
}

// Kind names a feed list.
type Kind string

// Feed list kinds.
const (
	KindWorld     Kind = "world"
	KindHot       Kind = "hot"
	KindFollowing Kind = "following"
	KindUser      Kind = "user"
	KindSearch    Kind = "search"
)

// Kinds lists every feed kind accepted by FeedFetcher.
func Kinds() []Kind {
	return []Kind{KindWorld, KindHot, KindFollowing, KindUser, KindSearch}
}

// NeedsParent reports whether the kind requires a parent id.
func (k Kind) NeedsParent() bool {
	return k == KindUser || k == KindSearch
}

// FeedFetcher returns the fetcher for a feed kind.
func FeedFetcher(c Caller, kind Kind) (feed.Fetcher[Feed], error) {
	switch kind {
	case KindWorld:
		return WorldFeeds(c), nil
	case KindHot:
		return HotFeeds(c), nil
	case KindFollowing:
		return FollowingFeeds(c), nil
	case KindUser:
		return UserFeeds(c), nil
	case KindSearch:
		return SearchFeeds(c), nil
	default:
		return nil, fmt.Errorf("unknown feed kind %q", kind)
	}
}

// endpoint turns page requests into backend calls and envelopes into pages.
type endpoint[T feed.Item] struct {
	caller Caller
	build  func(req feed.PageRequest) (client.Request, error)
}

// FetchPage implements feed.Fetcher. Application statuses are returned in
// the page, only transport and HTTP failures are errors.
func (e *endpoint[T]) FetchPage(ctx context.Context, req feed.PageRequest) (feed.Page[T], error) {
	r, err := e.build(req)
	if err != nil {
		return feed.Page[T]{}, err
	}

	env, err := e.caller.Call(ctx, r)
	if err != nil {
		return feed.Page[T]{}, fmt.Errorf("%s: %w", r.Path, err)
	}

	page := feed.Page[T]{Status: env.Status, Message: env.Msg}
	if env.OK() {
		if err := env.DecodeData(&page.Items); err != nil {
			return feed.Page[T]{}, fmt.Errorf("%s: %w", r.Path, err)
		}
	}
	return page, nil
}

// WorldFeeds pages through the public timeline.
func WorldFeeds(c Caller) feed.Fetcher[Feed] {
	return &endpoint[Feed]{caller: c, build: func(req feed.PageRequest) (client.Request, error) {
		return client.Request{
			Method: http.MethodGet,
			Path:   PathWorldFeeds,
			Params: cursorParams(ParamLastFeed, req.Cursor),
			Verify: []string{client.ParamUserID, client.ParamToken},
		}, nil
	}}
}

// HotFeeds pages through the ranked list. The backend keeps the position
// itself, the client only says whether it is continuing.
func HotFeeds(c Caller) feed.Fetcher[Feed] {
	return &endpoint[Feed]{caller: c, build: func(req feed.PageRequest) (client.Request, error) {
		return client.Request{
			Method: http.MethodGet,
			Path:   PathHotFeeds,
			Params: url.Values{ParamLoadingMore: {strconv.FormatBool(req.PageIndex > 0)}},
			Verify: []string{client.ParamToken, ParamLoadingMore, client.ParamDeviceSerial},
		}, nil
	}}
}

// FollowingFeeds pages through feeds of followed users.
func FollowingFeeds(c Caller) feed.Fetcher[Feed] {
	return &endpoint[Feed]{caller: c, build: func(req feed.PageRequest) (client.Request, error) {
		return client.Request{
			Method: http.MethodGet,
			Path:   PathFollowingFeeds,
			Params: cursorParams(ParamLastFeed, req.Cursor),
			Verify: []string{client.ParamUserID, client.ParamToken},
		}, nil
	}}
}

// UserFeeds pages through one user's feeds. The parent is the user id.
func UserFeeds(c Caller) feed.Fetcher[Feed] {
	return &endpoint[Feed]{caller: c, build: func(req feed.PageRequest) (client.Request, error) {
		if _, err := ParseID(req.Parent); err != nil {
			return client.Request{}, err
		}
		params := cursorParams(ParamLastFeed, req.Cursor)
		params.Set(ParamUser, req.Parent)
		return client.Request{
			Method: http.MethodGet,
			Path:   PathUserFeeds,
			Params: params,
			Verify: []string{client.ParamToken, ParamUser},
		}, nil
	}}
}

// Comments pages through the comments of a feed. The parent is the feed id.
func Comments(c Caller) feed.Fetcher[Comment] {
	return &endpoint[Comment]{caller: c, build: func(req feed.PageRequest) (client.Request, error) {
		if _, err := ParseID(req.Parent); err != nil {
			return client.Request{}, err
		}
		params := cursorParams(ParamLastComment, req.Cursor)
		params.Set(ParamFeed, req.Parent)
		return client.Request{
			Method: http.MethodGet,
			Path:   PathComments,
			Params: params,
			Verify: []string{ParamFeed, client.ParamToken},
		}, nil
	}}
}

// Followings pages through the users a user follows. This list is paged by
// number, starting at 0. The parent is the user id.
func Followings(c Caller) feed.Fetcher[User] {
	return &endpoint[User]{caller: c, build: func(req feed.PageRequest) (client.Request, error) {
		if _, err := ParseID(req.Parent); err != nil {
			return client.Request{}, err
		}
		return client.Request{
			Method: http.MethodGet,
			Path:   PathFollowings,
			Params: url.Values{
				ParamUser: {req.Parent},
				ParamPage: {strconv.Itoa(req.PageIndex)},
			},
			Verify: []string{ParamUser, client.ParamToken},
		}, nil
	}}
}

// SearchFeeds pages through search results. The parent is the keyword.
func SearchFeeds(c Caller) feed.Fetcher[Feed] {
	return &endpoint[Feed]{caller: c, build: func(req feed.PageRequest) (client.Request, error) {
		keyword := strings.TrimSpace(req.Parent)
		if keyword == "" {
			return client.Request{}, fmt.Errorf("%w: empty keyword", ErrInvalidParent)
		}
		params := cursorParams(ParamLastFeed, req.Cursor)
		params.Set(ParamKeyword, keyword)
		return client.Request{
			Method: http.MethodPost,
			Path:   PathSearchFeeds,
			Params: params,
			Verify: []string{client.ParamToken, ParamKeyword},
		}, nil
	}}
}

// ParseID parses a numeric parent id.
func ParseID(parent string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(parent), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q is not an id", ErrInvalidParent, parent)
	}
	return id, nil
}

// cursorParams carries the cursor under name, omitted at the start of a
// list.
func cursorParams(name string, cursor feed.Cursor) url.Values {
	params := url.Values{}
	if !cursor.IsStart() {
		params.Set(name, cursor.String())
	}
	return params
}
