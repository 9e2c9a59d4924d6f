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
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrInvalidArgument is returned for action arguments the backend would
// reject.
var ErrInvalidArgument = errors.New("invalid argument")

// Invalidator drops cached responses of an endpoint. *cache.Manager
// implements it.
type Invalidator interface {
	Invalidate(ctx context.Context, endpoint string) (int, error)
}

// Service performs the single-shot backend actions.
type Service struct {
	caller     Caller
	cache      Invalidator
	deviceName string
	logger     zerolog.Logger
}

// NewService creates a Service. cache may be nil. deviceName is sent with
// posted comments.
func NewService(caller Caller, cache Invalidator, deviceName string) *Service {
	if caller == nil {
		panic("api: caller cannot be nil")
	}
	return &Service{
		caller:     caller,
		cache:      cache,
		deviceName: deviceName,
		logger:     log.With().Str("component", "giffun-api").Logger(),
	}
}

// FetchUserProfile loads a user's profile together with the first page of
// their feeds.
func (s *Service) FetchUserProfile(ctx context.Context, userID int64) (*UserProfile, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("%w: user id %d", ErrInvalidArgument, userID)
	}
	env, err := s.call(ctx, client.Request{
		Method: http.MethodGet,
		Path:   PathUserFeeds,
		Params: url.Values{ParamUser: {formatID(userID)}},
		Verify: []string{client.ParamToken, ParamUser},
	})
	if err != nil {
		return nil, err
	}

	var profile UserProfile
	if err := env.Decode(&profile); err != nil {
		return nil, fmt.Errorf("%s: %w", PathUserFeeds, err)
	}
	return &profile, nil
}

// FeedDetails loads the viewer state and hot comments of a feed.
func (s *Service) FeedDetails(ctx context.Context, feedID int64) (*FeedDetails, error) {
	if feedID <= 0 {
		return nil, fmt.Errorf("%w: feed id %d", ErrInvalidArgument, feedID)
	}
	env, err := s.call(ctx, client.Request{
		Method: http.MethodGet,
		Path:   PathFeedDetails,
		Params: url.Values{ParamFeed: {formatID(feedID)}},
		Verify: []string{ParamFeed, client.ParamToken},
	})
	if err != nil {
		return nil, err
	}

	var details FeedDetails
	if err := env.Decode(&details); err != nil {
		return nil, fmt.Errorf("%s: %w", PathFeedDetails, err)
	}
	return &details, nil
}

// LikeFeed likes a feed.
func (s *Service) LikeFeed(ctx context.Context, feedID int64) error {
	if feedID <= 0 {
		return fmt.Errorf("%w: feed id %d", ErrInvalidArgument, feedID)
	}
	_, err := s.post(ctx, PathLikeFeed, url.Values{ParamFeed: {formatID(feedID)}},
		[]string{ParamFeed, client.ParamToken}, PathFeedDetails)
	return err
}

// DeleteFeed deletes one of the session user's feeds.
func (s *Service) DeleteFeed(ctx context.Context, feedID int64) error {
	if feedID <= 0 {
		return fmt.Errorf("%w: feed id %d", ErrInvalidArgument, feedID)
	}
	_, err := s.post(ctx, PathDeleteFeed, url.Values{ParamFeed: {formatID(feedID)}},
		[]string{client.ParamToken, client.ParamDeviceSerial, ParamFeed},
		PathWorldFeeds, PathUserFeeds, PathFollowingFeeds, PathFeedDetails)
	return err
}

// PostComment comments on a feed.
func (s *Service) PostComment(ctx context.Context, feedID int64, content string) error {
	content = strings.TrimSpace(content)
	if feedID <= 0 {
		return fmt.Errorf("%w: feed id %d", ErrInvalidArgument, feedID)
	}
	if content == "" {
		return fmt.Errorf("%w: empty comment", ErrInvalidArgument)
	}
	_, err := s.post(ctx, PathPostComment, url.Values{
		ParamFeed:    {formatID(feedID)},
		ParamContent: {content},
		ParamDevice:  {s.deviceName},
	}, []string{ParamFeed, client.ParamToken, ParamDevice}, PathComments, PathFeedDetails)
	return err
}

// DeleteComment deletes one of the session user's comments.
func (s *Service) DeleteComment(ctx context.Context, commentID int64) error {
	if commentID <= 0 {
		return fmt.Errorf("%w: comment id %d", ErrInvalidArgument, commentID)
	}
	_, err := s.post(ctx, PathDeleteComment, url.Values{ParamComment: {formatID(commentID)}},
		[]string{client.ParamToken, ParamComment, client.ParamDeviceSerial}, PathComments, PathFeedDetails)
	return err
}

// GoodComment upvotes a comment.
func (s *Service) GoodComment(ctx context.Context, commentID int64) error {
	if commentID <= 0 {
		return fmt.Errorf("%w: comment id %d", ErrInvalidArgument, commentID)
	}
	_, err := s.post(ctx, PathGoodComment, url.Values{ParamComment: {formatID(commentID)}},
		[]string{client.ParamUserID, ParamComment, client.ParamToken}, PathComments)
	return err
}

// FollowUsers follows every user in ids.
func (s *Service) FollowUsers(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return fmt.Errorf("%w: no users to follow", ErrInvalidArgument)
	}
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			return fmt.Errorf("%w: user id %d", ErrInvalidArgument, id)
		}
		parts = append(parts, formatID(id))
	}
	_, err := s.post(ctx, PathFollowUser, url.Values{ParamFollowingIDs: {strings.Join(parts, ",")}},
		[]string{ParamFollowingIDs, client.ParamToken}, PathFollowings, PathFollowingFeeds, PathUserFeeds)
	return err
}

// UnfollowUser stops following a user.
func (s *Service) UnfollowUser(ctx context.Context, userID int64) error {
	if userID <= 0 {
		return fmt.Errorf("%w: user id %d", ErrInvalidArgument, userID)
	}
	_, err := s.post(ctx, PathUnfollowUser, url.Values{ParamFollowingID: {formatID(userID)}},
		[]string{ParamFollowingID, client.ParamToken}, PathFollowings, PathFollowingFeeds, PathUserFeeds)
	return err
}

// ReportUser reports a user. ReasonOther needs a description.
func (s *Service) ReportUser(ctx context.Context, userID int64, reason ReportReason, description string) error {
	description = strings.TrimSpace(description)
	switch {
	case userID <= 0:
		return fmt.Errorf("%w: user id %d", ErrInvalidArgument, userID)
	case !reason.Valid():
		return fmt.Errorf("%w: report reason %d", ErrInvalidArgument, reason)
	case reason == ReasonOther && description == "":
		return fmt.Errorf("%w: reason other needs a description", ErrInvalidArgument)
	}

	params := url.Values{
		ParamReportUser: {formatID(userID)},
		ParamReason:     {strconv.Itoa(int(reason))},
	}
	if description != "" {
		params.Set(ParamDescription, description)
	}
	_, err := s.post(ctx, PathReportUser, params,
		[]string{client.ParamUserID, ParamReportUser, ParamReason})
	return err
}

// call performs r and turns a non-zero status into an error.
func (s *Service) call(ctx context.Context, r client.Request) (*client.Envelope, error) {
	env, err := s.caller.Call(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", r.Path, err)
	}
	if err := env.Err(); err != nil {
		s.logger.Warn().
			Str("endpoint", r.Path).
			Int("status", env.Status).
			Msg("Backend rejected request")
		return nil, fmt.Errorf("%s: %w", r.Path, err)
	}
	return env, nil
}

// post performs an action and drops cached responses of the endpoints it
// changes.
func (s *Service) post(ctx context.Context, path string, params url.Values, verify []string, stale ...string) (*client.Envelope, error) {
	env, err := s.call(ctx, client.Request{
		Method: http.MethodPost,
		Path:   path,
		Params: params,
		Verify: verify,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug().Str("endpoint", path).Msg("Action succeeded")
	if s.cache != nil {
		for _, endpoint := range stale {
			n, err := s.cache.Invalidate(ctx, endpoint)
			if err != nil {
				s.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Failed to invalidate cache")
				continue
			}
			if n > 0 {
				s.logger.Debug().Str("endpoint", endpoint).Int("keys", n).Msg("Invalidated cache")
			}
		}
	}
	return env, nil
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
