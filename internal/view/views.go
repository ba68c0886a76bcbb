package view

import (
	"github.com/UkralStul/campus-sync/internal/domain"
	"github.com/UkralStul/campus-sync/internal/normalize"
	"github.com/UkralStul/campus-sync/internal/query"
	"github.com/UkralStul/campus-sync/internal/storage"
)

// NewFeed - общая лента: публикации без сообщества, новые сверху, растущее окно.
func NewFeed(store storage.Store, opts ...ListOption) *List[domain.Post] {
	return NewList(store, query.ViewGlobalFeed, query.Params{}, normalize.Post, opts...)
}

// NewChat - общий чат: последние сообщения в хронологическом порядке.
func NewChat(store storage.Store, opts ...ListOption) *List[domain.ChatMessage] {
	return NewList(store, query.ViewChat, query.Params{}, normalize.ChatMessage, opts...)
}

func NewJobBoard(store storage.Store, opts ...ListOption) *List[domain.CareerOpportunity] {
	return NewList(store, query.ViewJobBoard, query.Params{}, normalize.Opportunity, opts...)
}

func NewExperiences(store storage.Store, opts ...ListOption) *List[domain.InterviewExperience] {
	return NewList(store, query.ViewExperiences, query.Params{}, normalize.Experience, opts...)
}

// NewComments - комментарии одной публикации. Монтируется, пока открыта панель комментариев.
func NewComments(store storage.Store, postID string, opts ...ListOption) *List[domain.Comment] {
	return NewList(store, query.ViewComments, query.Params{PostID: postID}, normalize.Comment, opts...)
}

// CommunityFeed - лента сообщества с вкладкой событий.
type CommunityFeed struct {
	*List[domain.Post]
}

func NewCommunityFeed(store storage.Store, communityID string, opts ...ListOption) *CommunityFeed {
	return &CommunityFeed{
		List: NewList(store, query.ViewCommunityFeed, query.Params{CommunityID: communityID}, normalize.Post, opts...),
	}
}

// Events - публикации-события из текущего снимка.
func (f *CommunityFeed) Events() []domain.Post {
	return EventsOf(f.Items())
}

// EventsOf отбирает события из уже прочитанного списка публикаций.
func EventsOf(posts []domain.Post) []domain.Post {
	out := []domain.Post{}
	for _, p := range posts {
		if p.Kind == domain.KindEvent {
			out = append(out, p)
		}
	}
	return out
}

// Directory - каталог сообществ, разбитый на "мои" и "остальные".
type Directory struct {
	*List[domain.Community]
}

func NewDirectory(store storage.Store, opts ...ListOption) *Directory {
	return &Directory{
		List: NewList(store, query.ViewCommunities, query.Params{}, normalize.Community, opts...),
	}
}

// Mine - сообщества, где actor участник.
func (d *Directory) Mine(actor domain.Actor) []domain.Community {
	return d.split(actor, true)
}

// Explore - сообщества, куда actor может вступить.
func (d *Directory) Explore(actor domain.Actor) []domain.Community {
	return d.split(actor, false)
}

func (d *Directory) split(actor domain.Actor, member bool) []domain.Community {
	out := []domain.Community{}
	for _, c := range d.Items() {
		if c.Members.Has(actor.ID) == member {
			out = append(out, c)
		}
	}
	return out
}

// CommunityDetail - страница одного сообщества с составом участников.
type CommunityDetail struct {
	*List[domain.Community]
}

func NewCommunityDetail(store storage.Store, communityID string, opts ...ListOption) *CommunityDetail {
	return &CommunityDetail{
		List: NewList(store, query.ViewCommunity, query.Params{CommunityID: communityID}, normalize.Community, opts...),
	}
}

// Current - сообщество из последнего снимка; false, если его нет или оно удалено.
func (c *CommunityDetail) Current() (domain.Community, bool) {
	items := c.Items()
	if len(items) == 0 {
		return domain.Community{}, false
	}
	return items[0], true
}

// Roster - участники, владелец первым.
func (c *CommunityDetail) Roster() []string {
	community, ok := c.Current()
	if !ok {
		return nil
	}
	out := make([]string, 0, community.Members.Len())
	out = append(out, community.OwnerID)
	for _, id := range community.Members {
		if id != community.OwnerID {
			out = append(out, id)
		}
	}
	return out
}
