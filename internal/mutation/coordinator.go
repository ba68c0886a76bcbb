// Package mutation отправляет действия пользователя в удалённое хранилище.
//
// Локальный кэш мутации не трогают: экран обновится, когда придёт снимок
// с изменением. Права проверяются до любого обращения к хранилищу.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang/glog"

	"github.com/UkralStul/campus-sync/internal/authz"
	"github.com/UkralStul/campus-sync/internal/domain"
	"github.com/UkralStul/campus-sync/internal/media"
	"github.com/UkralStul/campus-sync/internal/normalize"
	"github.com/UkralStul/campus-sync/internal/query"
	"github.com/UkralStul/campus-sync/internal/storage"
)

var (
	ErrEmptyText = errors.New("text is empty")
	ErrEmptyName = errors.New("name is empty")
)

const (
	fieldLikedBy          = "likedBy"
	fieldLegacyLikes      = "likes"
	fieldMembers          = "members"
	fieldAllowMemberPosts = "allowMemberPosts"
)

// Coordinator выполняет мутации от имени явно переданного Actor.
type Coordinator struct {
	store    storage.Store
	uploader media.Uploader
}

// New - конструктор. uploader может быть nil, тогда вложения запрещены.
func New(store storage.Store, uploader media.Uploader) *Coordinator {
	return &Coordinator{store: store, uploader: uploader}
}

// === Set toggles ===

// ToggleLike ставит или снимает лайк. liked - последнее известное состояние:
// если лайк стоит, он снимается, иначе ставится.
func (c *Coordinator) ToggleLike(ctx context.Context, actor domain.Actor, postID string, liked bool) error {
	if !authz.CanAct(actor) {
		return authz.ErrDenied
	}
	if liked {
		// старые записи хранят лайки в likes; нормализатор их объединяет,
		// поэтому снимать лайк нужно из обоих полей
		if err := c.setRemove(ctx, domain.CollectionPosts, postID, fieldLikedBy, actor.ID); err != nil {
			return err
		}
		return c.setRemove(ctx, domain.CollectionPosts, postID, fieldLegacyLikes, actor.ID)
	}
	return c.setAdd(ctx, domain.CollectionPosts, postID, fieldLikedBy, actor.ID)
}

func (c *Coordinator) Join(ctx context.Context, actor domain.Actor, community domain.Community) error {
	if !authz.CanJoin(community, actor) {
		return authz.ErrDenied
	}
	return c.setAdd(ctx, domain.CollectionCommunities, community.ID, fieldMembers, actor.ID)
}

func (c *Coordinator) Leave(ctx context.Context, actor domain.Actor, community domain.Community) error {
	if !authz.CanLeave(community, actor) {
		return authz.ErrDenied
	}
	return c.setRemove(ctx, domain.CollectionCommunities, community.ID, fieldMembers, actor.ID)
}

func (c *Coordinator) Kick(ctx context.Context, actor domain.Actor, community domain.Community, targetID string) error {
	if !authz.CanKick(community, actor, targetID) {
		return authz.ErrDenied
	}
	return c.setRemove(ctx, domain.CollectionCommunities, community.ID, fieldMembers, targetID)
}

// === Communities ===

// NewCommunity - форма создания сообщества.
type NewCommunity struct {
	Name             string
	Description      string
	AllowMemberPosts bool
}

// CreateCommunity создаёт сообщество; владелец сразу становится участником.
func (c *Coordinator) CreateCommunity(ctx context.Context, actor domain.Actor, in NewCommunity) (string, error) {
	if !authz.CanAct(actor) {
		return "", authz.ErrDenied
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return "", ErrEmptyName
	}
	community := domain.Community{
		Name:             name,
		Description:      strings.TrimSpace(in.Description),
		OwnerID:          actor.ID,
		OwnerName:        AuthorName(actor),
		Members:          domain.NewSet(actor.ID),
		AllowMemberPosts: in.AllowMemberPosts,
	}
	return c.create(ctx, domain.CollectionCommunities, community.Fields())
}

// SetAllowMemberPosts меняет настройку сообщества; только владелец.
func (c *Coordinator) SetAllowMemberPosts(ctx context.Context, actor domain.Actor, community domain.Community, allow bool) error {
	if !authz.CanManage(community, actor) {
		return authz.ErrDenied
	}
	err := c.store.UpdateFields(ctx, domain.CollectionCommunities, community.ID, map[string]any{
		fieldAllowMemberPosts: allow,
	})
	if err != nil {
		return fmt.Errorf("update community %s: %w", community.ID, err)
	}
	return nil
}

// DeleteCommunity удаляет публикации сообщества вместе с комментариями,
// затем сам документ сообщества. Повторный вызов безопасен: уже удалённые
// документы пропускаются.
func (c *Coordinator) DeleteCommunity(ctx context.Context, actor domain.Actor, community domain.Community) error {
	if !authz.CanDelete(community, actor) {
		return authz.ErrDenied
	}

	posts, err := c.store.Get(ctx, query.PostsOfCommunity(community.ID))
	if err != nil {
		return fmt.Errorf("list posts of community %s: %w", community.ID, err)
	}
	postIDs := make([]string, 0, len(posts))
	for _, p := range posts {
		postIDs = append(postIDs, p.ID)
	}

	if len(postIDs) > 0 {
		comments, err := c.store.Get(ctx, query.CommentsForPosts(postIDs))
		if err != nil {
			return fmt.Errorf("list comments of community %s: %w", community.ID, err)
		}
		for _, cm := range comments {
			if err := c.deleteDoc(ctx, domain.CollectionComments, cm.ID); err != nil {
				return err
			}
		}
		for _, id := range postIDs {
			if err := c.deleteDoc(ctx, domain.CollectionPosts, id); err != nil {
				return err
			}
		}
	}

	if err := c.deleteDoc(ctx, domain.CollectionCommunities, community.ID); err != nil {
		return err
	}
	glog.Infof("[mutation] community %s deleted by %s (%d posts)", community.ID, actor.ID, len(postIDs))
	return nil
}

// === Appends ===

// NewPost - форма публикации. Community равен nil для общей ленты.
type NewPost struct {
	Text        string
	Kind        domain.PostKind
	Community   *domain.Community
	Attachments []media.File
}

// CreatePost загружает все вложения и только затем создаёт публикацию.
// Ошибка загрузки прерывает создание целиком.
func (c *Coordinator) CreatePost(ctx context.Context, actor domain.Actor, in NewPost) (string, error) {
	if !authz.CanAct(actor) {
		return "", authz.ErrDenied
	}
	if in.Community != nil && !authz.CanPost(*in.Community, actor) {
		return "", authz.ErrDenied
	}
	text := strings.TrimSpace(in.Text)
	if text == "" && len(in.Attachments) == 0 {
		return "", ErrEmptyText
	}

	kind := in.Kind
	if !kind.Valid() {
		kind = domain.KindFeed
	}
	post := domain.Post{
		AuthorID:   actor.ID,
		AuthorName: AuthorName(actor),
		Kind:       kind,
		Text:       text,
		LikedBy:    domain.NewSet(),
	}
	if in.Community != nil {
		id := in.Community.ID
		post.CommunityID = &id
	}

	if len(in.Attachments) > 0 {
		if c.uploader == nil {
			return "", fmt.Errorf("%w: no uploader configured", media.ErrUploadFailed)
		}
		for _, f := range in.Attachments {
			url, err := c.uploader.Upload(ctx, f)
			if err != nil {
				glog.Errorf("[mutation] upload %s: %v", f.Name, err)
				return "", fmt.Errorf("upload %s: %w", f.Name, err)
			}
			post.Media = append(post.Media, domain.Media{
				URL:      url,
				MimeType: firstNonEmpty(f.MimeType, normalize.DefaultMimeType),
			})
		}
	}

	return c.create(ctx, domain.CollectionPosts, post.Fields())
}

func (c *Coordinator) AddComment(ctx context.Context, actor domain.Actor, postID, text string) (string, error) {
	if !authz.CanAct(actor) {
		return "", authz.ErrDenied
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyText
	}
	recs, err := c.store.Get(ctx, query.ByID(domain.CollectionPosts, postID))
	if err != nil {
		return "", fmt.Errorf("get post %s: %w", postID, err)
	}
	if len(recs) == 0 {
		return "", fmt.Errorf("post %s: %w", postID, storage.ErrNotFound)
	}
	comment := domain.Comment{
		PostID:     postID,
		AuthorID:   actor.ID,
		AuthorName: AuthorName(actor),
		Text:       text,
	}
	return c.create(ctx, domain.CollectionComments, comment.Fields())
}

func (c *Coordinator) SendMessage(ctx context.Context, actor domain.Actor, text string) (string, error) {
	if !authz.CanAct(actor) {
		return "", authz.ErrDenied
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyText
	}
	msg := domain.ChatMessage{
		SenderID:   actor.ID,
		SenderName: AuthorName(actor),
		Text:       text,
	}
	return c.create(ctx, domain.CollectionMessages, msg.Fields())
}

// AddOpportunity публикует вакансию; пустые поля получают значения по умолчанию.
func (c *Coordinator) AddOpportunity(ctx context.Context, actor domain.Actor, in domain.CareerOpportunity) (string, error) {
	if !authz.CanAct(actor) {
		return "", authz.ErrDenied
	}
	return c.create(ctx, domain.CollectionOpportunities, OpportunityDefaults(in).Fields())
}

func (c *Coordinator) AddExperience(ctx context.Context, actor domain.Actor, in domain.InterviewExperience) (string, error) {
	if !authz.CanAct(actor) {
		return "", authz.ErrDenied
	}
	in.AuthorID = actor.ID
	in.AuthorName = AuthorName(actor)
	in = ExperienceDefaults(in)
	if strings.TrimSpace(in.Content) == "" {
		return "", ErrEmptyText
	}
	return c.create(ctx, domain.CollectionExperiences, in.Fields())
}

// === Profiles ===

// ProfileUpdate - изменяемые поля профиля; nil означает "не менять".
type ProfileUpdate struct {
	DisplayName *string
}

func (c *Coordinator) UpdateProfile(ctx context.Context, actor domain.Actor, profileID string, in ProfileUpdate) error {
	if !authz.CanEditProfile(profileID, actor) {
		return authz.ErrDenied
	}
	fields := map[string]any{}
	if in.DisplayName != nil {
		name := strings.TrimSpace(*in.DisplayName)
		if name == "" {
			return ErrEmptyName
		}
		fields["displayName"] = name
	}
	if len(fields) == 0 {
		return nil
	}
	if err := c.store.UpdateFields(ctx, domain.CollectionProfiles, profileID, fields); err != nil {
		return fmt.Errorf("update profile %s: %w", profileID, err)
	}
	return nil
}

// === Helpers ===

func (c *Coordinator) setAdd(ctx context.Context, collection, docID, field, value string) error {
	if err := c.store.SetAdd(ctx, collection, docID, field, value); err != nil {
		return fmt.Errorf("add %s to %s/%s.%s: %w", value, collection, docID, field, err)
	}
	return nil
}

func (c *Coordinator) setRemove(ctx context.Context, collection, docID, field, value string) error {
	if err := c.store.SetRemove(ctx, collection, docID, field, value); err != nil {
		return fmt.Errorf("remove %s from %s/%s.%s: %w", value, collection, docID, field, err)
	}
	return nil
}

func (c *Coordinator) create(ctx context.Context, collection string, fields map[string]any) (string, error) {
	id, err := c.store.Create(ctx, collection, fields)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", collection, err)
	}
	glog.V(2).Infof("[mutation] created %s/%s", collection, id)
	return id, nil
}

func (c *Coordinator) deleteDoc(ctx context.Context, collection, docID string) error {
	err := c.store.DeleteDoc(ctx, collection, docID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("delete %s/%s: %w", collection, docID, err)
	}
	return nil
}
