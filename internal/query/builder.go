package query

import (
	"errors"
	"fmt"

	"github.com/UkralStul/campus-sync/internal/domain"
	"github.com/UkralStul/campus-sync/internal/record"
)

// View - экран, для которого строится запрос.
type View string

const (
	ViewGlobalFeed    View = "feed"
	ViewCommunityFeed View = "community-feed"
	ViewChat          View = "chat"
	ViewJobBoard      View = "jobs"
	ViewExperiences   View = "experiences"
	ViewCommunities   View = "communities"
	ViewCommunity     View = "community"
	ViewComments      View = "comments"
)

const (
	// DefaultWindow - начальный размер растущего окна.
	DefaultWindow = 10
	// PageIncrement - шаг роста окна при прокрутке.
	PageIncrement = 10
	// CommunityFeedCap - фиксированный лимит ленты сообщества.
	CommunityFeedCap = 50
	// ChatWindow - сколько последних сообщений держит чат.
	ChatWindow = 50
)

var (
	ErrUnknownView  = errors.New("unknown view")
	ErrMissingParam = errors.New("missing view parameter")
)

// Params - параметры экрана.
type Params struct {
	CommunityID string
	PostID      string
	// Window - текущий размер окна для растущих экранов; 0 означает DefaultWindow.
	Window int
}

// Build строит запрос для экрана. Одинаковые входы дают равные Spec.
func Build(view View, p Params) (Spec, error) {
	window := p.Window
	if window <= 0 {
		window = DefaultWindow
	}
	newestFirst := Order{Field: record.FieldCreatedAt, Dir: Desc}

	switch view {
	case ViewGlobalFeed:
		return Spec{
			Collection: domain.CollectionPosts,
			Filters:    []Filter{{Field: "communityId", Op: OpEq, Value: nil}},
			OrderBy:    newestFirst,
			Limit:      Limit{Kind: LimitPrefix, N: window},
		}, nil
	case ViewCommunityFeed:
		if p.CommunityID == "" {
			return Spec{}, fmt.Errorf("%s: communityId: %w", view, ErrMissingParam)
		}
		return Spec{
			Collection: domain.CollectionPosts,
			Filters:    []Filter{{Field: "communityId", Op: OpEq, Value: p.CommunityID}},
			OrderBy:    newestFirst,
			Limit:      Limit{Kind: LimitPrefix, N: CommunityFeedCap},
		}, nil
	case ViewChat:
		return Spec{
			Collection: domain.CollectionMessages,
			OrderBy:    Order{Field: record.FieldCreatedAt, Dir: Asc},
			Limit:      Limit{Kind: LimitSuffix, N: ChatWindow},
		}, nil
	case ViewJobBoard:
		return Spec{
			Collection: domain.CollectionOpportunities,
			OrderBy:    newestFirst,
			Limit:      Limit{Kind: LimitPrefix, N: window},
		}, nil
	case ViewExperiences:
		return Spec{
			Collection: domain.CollectionExperiences,
			OrderBy:    newestFirst,
			Limit:      Limit{Kind: LimitPrefix, N: window},
		}, nil
	case ViewCommunities:
		return Spec{
			Collection: domain.CollectionCommunities,
			OrderBy:    newestFirst,
		}, nil
	case ViewCommunity:
		if p.CommunityID == "" {
			return Spec{}, fmt.Errorf("%s: communityId: %w", view, ErrMissingParam)
		}
		return ByID(domain.CollectionCommunities, p.CommunityID), nil
	case ViewComments:
		if p.PostID == "" {
			return Spec{}, fmt.Errorf("%s: postId: %w", view, ErrMissingParam)
		}
		return Spec{
			Collection: domain.CollectionComments,
			Filters:    []Filter{{Field: "postId", Op: OpEq, Value: p.PostID}},
			OrderBy:    Order{Field: record.FieldCreatedAt, Dir: Asc},
		}, nil
	}
	return Spec{}, fmt.Errorf("%q: %w", view, ErrUnknownView)
}

// Growable сообщает, пагинируется ли экран прокруткой.
// Лента сообщества ограничена фиксированным лимитом и не растёт.
func Growable(view View) bool {
	switch view {
	case ViewGlobalFeed, ViewJobBoard, ViewExperiences:
		return true
	}
	return false
}

// CommentsForPosts - разовый запрос комментариев сразу для нескольких постов.
func CommentsForPosts(postIDs []string) Spec {
	return Spec{
		Collection: domain.CollectionComments,
		Filters:    []Filter{{Field: "postId", Op: OpIn, Value: append([]string(nil), postIDs...)}},
		OrderBy:    Order{Field: record.FieldCreatedAt, Dir: Asc},
	}
}

// PostsOfCommunity - все посты сообщества без лимита (для каскадного удаления).
func PostsOfCommunity(communityID string) Spec {
	return Spec{
		Collection: domain.CollectionPosts,
		Filters:    []Filter{{Field: "communityId", Op: OpEq, Value: communityID}},
		OrderBy:    Order{Field: record.FieldCreatedAt, Dir: Desc},
	}
}

// ByID - разовый запрос одного документа.
func ByID(collection, id string) Spec {
	return Spec{
		Collection: collection,
		Filters:    []Filter{{Field: record.FieldID, Op: OpEq, Value: id}},
		OrderBy:    Order{Field: record.FieldCreatedAt, Dir: Desc},
		Limit:      Limit{Kind: LimitPrefix, N: 1},
	}
}
