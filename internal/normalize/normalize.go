// Package normalize превращает сырые документы хранилища в типизированные сущности.
// Все функции тотальны: отсутствующие или испорченные поля получают значения
// по умолчанию, ошибка наружу не возвращается никогда.
package normalize

import (
	"reflect"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/mitchellh/mapstructure"

	"github.com/UkralStul/campus-sync/internal/domain"
	"github.com/UkralStul/campus-sync/internal/record"
)

// Значения по умолчанию для старых документов.
const (
	DefaultAuthorName = "Anonymous"
	DefaultMimeType   = "image/png"
)

type rawMedia struct {
	URL        string `mapstructure:"url"`
	MimeType   string `mapstructure:"mimeType"`
	LegacyType string `mapstructure:"type"`
}

type rawPost struct {
	AuthorID    string     `mapstructure:"authorId"`
	AuthorName  string     `mapstructure:"authorName"`
	CommunityID *string    `mapstructure:"communityId"`
	Kind        string     `mapstructure:"kind"`
	LegacyType  string     `mapstructure:"type"`
	Text        string     `mapstructure:"text"`
	Media       []rawMedia `mapstructure:"media"`
	LikedBy     []string   `mapstructure:"likedBy"`
	Likes       []string   `mapstructure:"likes"`
	CreatedAt   time.Time  `mapstructure:"createdAt"`
}

type rawCommunity struct {
	Name             string    `mapstructure:"name"`
	Description      string    `mapstructure:"description"`
	OwnerID          string    `mapstructure:"ownerId"`
	OwnerName        string    `mapstructure:"ownerName"`
	Members          []string  `mapstructure:"members"`
	AllowMemberPosts bool      `mapstructure:"allowMemberPosts"`
	CreatedAt        time.Time `mapstructure:"createdAt"`
}

type rawComment struct {
	PostID     string    `mapstructure:"postId"`
	AuthorID   string    `mapstructure:"authorId"`
	AuthorName string    `mapstructure:"authorName"`
	Text       string    `mapstructure:"text"`
	CreatedAt  time.Time `mapstructure:"createdAt"`
}

type rawMessage struct {
	SenderID    string    `mapstructure:"senderId"`
	SenderName  string    `mapstructure:"senderName"`
	UID         string    `mapstructure:"uid"`
	DisplayName string    `mapstructure:"displayName"`
	Text        string    `mapstructure:"text"`
	CreatedAt   time.Time `mapstructure:"createdAt"`
}

type rawOpportunity struct {
	CompanyName    string    `mapstructure:"companyName"`
	Role           string    `mapstructure:"role"`
	EmploymentKind string    `mapstructure:"employmentKind"`
	LegacyType     string    `mapstructure:"type"`
	Compensation   string    `mapstructure:"compensation"`
	LegacyCTC      string    `mapstructure:"ctc"`
	Location       string    `mapstructure:"location"`
	Deadline       string    `mapstructure:"deadline"`
	Criteria       string    `mapstructure:"criteria"`
	ApplyLink      string    `mapstructure:"applyLink"`
	Status         string    `mapstructure:"status"`
	CreatedAt      time.Time `mapstructure:"createdAt"`
}

type rawExperience struct {
	CompanyName string    `mapstructure:"companyName"`
	AuthorID    string    `mapstructure:"authorId"`
	AuthorName  string    `mapstructure:"authorName"`
	Difficulty  string    `mapstructure:"difficulty"`
	Rounds      []string  `mapstructure:"rounds"`
	Content     string    `mapstructure:"content"`
	CreatedAt   time.Time `mapstructure:"createdAt"`
}

type rawProfile struct {
	DisplayName string    `mapstructure:"displayName"`
	Email       string    `mapstructure:"email"`
	CreatedAt   time.Time `mapstructure:"createdAt"`
}

// Post нормализует публикацию: likedBy по умолчанию пуст, тип - feed.
func Post(r record.Record) domain.Post {
	var raw rawPost
	decode(r, &raw)

	kind := domain.PostKind(firstNonEmpty(raw.Kind, raw.LegacyType))
	if !kind.Valid() {
		kind = domain.KindFeed
	}
	var community *string
	if raw.CommunityID != nil && *raw.CommunityID != "" {
		id := *raw.CommunityID
		community = &id
	}
	media := make([]domain.Media, 0, len(raw.Media))
	for _, m := range raw.Media {
		if m.URL == "" {
			continue
		}
		media = append(media, domain.Media{
			URL:      m.URL,
			MimeType: firstNonEmpty(m.MimeType, m.LegacyType, DefaultMimeType),
		})
	}
	return domain.Post{
		ID:          r.ID,
		AuthorID:    raw.AuthorID,
		AuthorName:  firstNonEmpty(raw.AuthorName, DefaultAuthorName),
		CommunityID: community,
		Kind:        kind,
		Text:        raw.Text,
		Media:       media,
		LikedBy:     domain.NewSet(append(raw.LikedBy, raw.Likes...)...),
		CreatedAt:   raw.CreatedAt,
	}
}

// Community нормализует сообщество; владелец всегда попадает в участники.
func Community(r record.Record) domain.Community {
	var raw rawCommunity
	decode(r, &raw)

	members := domain.NewSet(raw.Members...)
	if raw.OwnerID != "" {
		members = members.With(raw.OwnerID)
	}
	return domain.Community{
		ID:               r.ID,
		Name:             raw.Name,
		Description:      raw.Description,
		OwnerID:          raw.OwnerID,
		OwnerName:        raw.OwnerName,
		Members:          members,
		AllowMemberPosts: raw.AllowMemberPosts,
		CreatedAt:        raw.CreatedAt,
	}
}

func Comment(r record.Record) domain.Comment {
	var raw rawComment
	decode(r, &raw)
	return domain.Comment{
		ID:         r.ID,
		PostID:     raw.PostID,
		AuthorID:   raw.AuthorID,
		AuthorName: firstNonEmpty(raw.AuthorName, DefaultAuthorName),
		Text:       raw.Text,
		CreatedAt:  raw.CreatedAt,
	}
}

// ChatMessage понимает и старые поля uid/displayName.
func ChatMessage(r record.Record) domain.ChatMessage {
	var raw rawMessage
	decode(r, &raw)
	return domain.ChatMessage{
		ID:         r.ID,
		SenderID:   firstNonEmpty(raw.SenderID, raw.UID),
		SenderName: firstNonEmpty(raw.SenderName, raw.DisplayName, DefaultAuthorName),
		Text:       raw.Text,
		CreatedAt:  raw.CreatedAt,
	}
}

// Opportunity нормализует вакансию; неизвестный статус становится Hiring.
func Opportunity(r record.Record) domain.CareerOpportunity {
	var raw rawOpportunity
	decode(r, &raw)

	status := domain.OpportunityStatus(raw.Status)
	if !status.Valid() {
		status = domain.StatusHiring
	}
	return domain.CareerOpportunity{
		ID:             r.ID,
		CompanyName:    raw.CompanyName,
		Role:           raw.Role,
		EmploymentKind: firstNonEmpty(raw.EmploymentKind, raw.LegacyType),
		Compensation:   firstNonEmpty(raw.Compensation, raw.LegacyCTC),
		Location:       raw.Location,
		Deadline:       raw.Deadline,
		Criteria:       raw.Criteria,
		ApplyLink:      raw.ApplyLink,
		Status:         status,
		CreatedAt:      raw.CreatedAt,
	}
}

func Experience(r record.Record) domain.InterviewExperience {
	var raw rawExperience
	decode(r, &raw)

	difficulty := domain.Difficulty(raw.Difficulty)
	if !difficulty.Valid() {
		difficulty = domain.DifficultyMedium
	}
	rounds := make([]string, 0, len(raw.Rounds))
	for _, round := range raw.Rounds {
		if strings.TrimSpace(round) != "" {
			rounds = append(rounds, round)
		}
	}
	return domain.InterviewExperience{
		ID:          r.ID,
		CompanyName: raw.CompanyName,
		AuthorID:    raw.AuthorID,
		AuthorName:  firstNonEmpty(raw.AuthorName, DefaultAuthorName),
		Difficulty:  difficulty,
		Rounds:      rounds,
		Content:     raw.Content,
		CreatedAt:   raw.CreatedAt,
	}
}

func Profile(r record.Record) domain.Profile {
	var raw rawProfile
	decode(r, &raw)
	return domain.Profile{
		ID:          r.ID,
		DisplayName: raw.DisplayName,
		Email:       raw.Email,
		CreatedAt:   raw.CreatedAt,
	}
}

// All применяет нормализатор к списку записей, сохраняя порядок.
func All[T any](recs []record.Record, fn func(record.Record) T) []T {
	out := make([]T, len(recs))
	for i, r := range recs {
		out[i] = fn(r)
	}
	return out
}

// decode заполняет out тем, что удалось разобрать. Ошибки отдельных полей
// оставляют нулевые значения, которые затем заменяются умолчаниями.
func decode(r record.Record, out any) {
	defer func() {
		if p := recover(); p != nil {
			glog.Errorf("[normalize] %s: recovered from %v", r.ID, p)
		}
	}()

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
			epochMillisToTime,
		),
	})
	if err != nil {
		glog.Errorf("[normalize] decoder: %v", err)
		return
	}
	if err := dec.Decode(r.Fields); err != nil {
		glog.V(2).Infof("[normalize] %s: partial decode: %v", r.ID, err)
	}
}

var timeType = reflect.TypeOf(time.Time{})

// epochMillisToTime понимает числовые отметки времени (миллисекунды Unix).
func epochMillisToTime(from, to reflect.Type, data any) (any, error) {
	if to != timeType {
		return data, nil
	}
	switch v := data.(type) {
	case int64:
		return time.UnixMilli(v).UTC(), nil
	case int:
		return time.UnixMilli(int64(v)).UTC(), nil
	case float64:
		return time.UnixMilli(int64(v)).UTC(), nil
	case nil:
		return time.Time{}, nil
	}
	return data, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
