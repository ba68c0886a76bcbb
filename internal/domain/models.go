package domain

import (
	"time"

	"golang.org/x/exp/slices"
)

// Имена коллекций удалённого хранилища.
const (
	CollectionPosts         = "posts"
	CollectionCommunities   = "communities"
	CollectionComments      = "comments"
	CollectionMessages      = "messages"
	CollectionOpportunities = "careerOpportunities"
	CollectionExperiences   = "interviewExperiences"
	CollectionProfiles      = "users"
)

// PostKind - тип публикации.
type PostKind string

const (
	KindFeed       PostKind = "feed"
	KindNews       PostKind = "news"
	KindEvent      PostKind = "event"
	KindJob        PostKind = "job"
	KindExperience PostKind = "experience"
)

// Valid сообщает, известен ли тип.
func (k PostKind) Valid() bool {
	switch k {
	case KindFeed, KindNews, KindEvent, KindJob, KindExperience:
		return true
	}
	return false
}

// OpportunityStatus - статус вакансии.
type OpportunityStatus string

const (
	StatusHiring    OpportunityStatus = "Hiring"
	StatusExpired   OpportunityStatus = "Expired"
	StatusResultOut OpportunityStatus = "ResultOut"
)

func (s OpportunityStatus) Valid() bool {
	return s == StatusHiring || s == StatusExpired || s == StatusResultOut
}

// Difficulty - сложность собеседования.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "Easy"
	DifficultyMedium Difficulty = "Medium"
	DifficultyHard   Difficulty = "Hard"
)

func (d Difficulty) Valid() bool {
	return d == DifficultyEasy || d == DifficultyMedium || d == DifficultyHard
}

// Actor - пользователь, от имени которого выполняется действие.
// Пустой ID означает анонима.
type Actor struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

// Anonymous сообщает, что личность не установлена.
func (a Actor) Anonymous() bool { return a.ID == "" }

// Set - множество идентификаторов пользователей.
// Хранится отсортированным и без повторов, поэтому сравнивается поэлементно.
type Set []string

// NewSet строит множество, отбрасывая пустые значения и дубликаты.
func NewSet(ids ...string) Set {
	out := make(Set, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func (s Set) Has(id string) bool {
	_, ok := slices.BinarySearch(s, id)
	return ok
}

// With возвращает множество с добавленным id; исходное не меняется.
func (s Set) With(id string) Set {
	i, ok := slices.BinarySearch(s, id)
	if ok || id == "" {
		return slices.Clone(s)
	}
	return slices.Insert(slices.Clone(s), i, id)
}

// Without возвращает множество без id; исходное не меняется.
func (s Set) Without(id string) Set {
	i, ok := slices.BinarySearch(s, id)
	if !ok {
		return slices.Clone(s)
	}
	return slices.Delete(slices.Clone(s), i, i+1)
}

func (s Set) Len() int { return len(s) }

func (s Set) Equal(o Set) bool { return slices.Equal(s, o) }

// Media - вложение публикации.
type Media struct {
	URL      string `json:"url"`
	MimeType string `json:"mimeType"`
}

// Post представляет публикацию в общей ленте или в сообществе.
type Post struct {
	ID          string    `json:"id"`
	AuthorID    string    `json:"authorId"`
	AuthorName  string    `json:"authorName"`
	CommunityID *string   `json:"communityId"`
	Kind        PostKind  `json:"kind"`
	Text        string    `json:"text"`
	Media       []Media   `json:"media"`
	LikedBy     Set       `json:"likedBy"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Fields - полезная нагрузка для создания документа; createdAt ставит хранилище.
func (p Post) Fields() map[string]any {
	media := make([]any, len(p.Media))
	for i, m := range p.Media {
		media[i] = map[string]any{"url": m.URL, "mimeType": m.MimeType}
	}
	var community any
	if p.CommunityID != nil {
		community = *p.CommunityID
	}
	return map[string]any{
		"authorId":    p.AuthorID,
		"authorName":  p.AuthorName,
		"communityId": community,
		"kind":        string(p.Kind),
		"text":        p.Text,
		"media":       media,
		"likedBy":     []string(NewSet(p.LikedBy...)),
	}
}

// Community представляет сообщество. Владелец всегда входит в Members.
type Community struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Description      string    `json:"description"`
	OwnerID          string    `json:"ownerId"`
	OwnerName        string    `json:"ownerName"`
	Members          Set       `json:"members"`
	AllowMemberPosts bool      `json:"allowMemberPosts"`
	CreatedAt        time.Time `json:"createdAt"`
}

func (c Community) Fields() map[string]any {
	return map[string]any{
		"name":             c.Name,
		"description":      c.Description,
		"ownerId":          c.OwnerID,
		"ownerName":        c.OwnerName,
		"members":          []string(NewSet(c.Members...).With(c.OwnerID)),
		"allowMemberPosts": c.AllowMemberPosts,
	}
}

// Comment представляет комментарий к публикации.
type Comment struct {
	ID         string    `json:"id"`
	PostID     string    `json:"postId"`
	AuthorID   string    `json:"authorId"`
	AuthorName string    `json:"authorName"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (c Comment) Fields() map[string]any {
	return map[string]any{
		"postId":     c.PostID,
		"authorId":   c.AuthorID,
		"authorName": c.AuthorName,
		"text":       c.Text,
	}
}

// ChatMessage - сообщение общего чата.
type ChatMessage struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (m ChatMessage) Fields() map[string]any {
	return map[string]any{
		"senderId":   m.SenderID,
		"senderName": m.SenderName,
		"text":       m.Text,
	}
}

// CareerOpportunity - вакансия или стажировка.
type CareerOpportunity struct {
	ID             string            `json:"id"`
	CompanyName    string            `json:"companyName"`
	Role           string            `json:"role"`
	EmploymentKind string            `json:"employmentKind"`
	Compensation   string            `json:"compensation"`
	Location       string            `json:"location"`
	Deadline       string            `json:"deadline"`
	Criteria       string            `json:"criteria"`
	ApplyLink      string            `json:"applyLink"`
	Status         OpportunityStatus `json:"status"`
	CreatedAt      time.Time         `json:"createdAt"`
}

func (o CareerOpportunity) Fields() map[string]any {
	return map[string]any{
		"companyName":    o.CompanyName,
		"role":           o.Role,
		"employmentKind": o.EmploymentKind,
		"compensation":   o.Compensation,
		"location":       o.Location,
		"deadline":       o.Deadline,
		"criteria":       o.Criteria,
		"applyLink":      o.ApplyLink,
		"status":         string(o.Status),
	}
}

// InterviewExperience - отзыв о собеседовании.
type InterviewExperience struct {
	ID          string     `json:"id"`
	CompanyName string     `json:"companyName"`
	AuthorID    string     `json:"authorId"`
	AuthorName  string     `json:"authorName"`
	Difficulty  Difficulty `json:"difficulty"`
	Rounds      []string   `json:"rounds"`
	Content     string     `json:"content"`
	CreatedAt   time.Time  `json:"createdAt"`
}

func (e InterviewExperience) Fields() map[string]any {
	return map[string]any{
		"companyName": e.CompanyName,
		"authorId":    e.AuthorID,
		"authorName":  e.AuthorName,
		"difficulty":  string(e.Difficulty),
		"rounds":      append([]string{}, e.Rounds...),
		"content":     e.Content,
	}
}

// Profile - публичный профиль пользователя.
type Profile struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	Email       string    `json:"email"`
	CreatedAt   time.Time `json:"createdAt"`
}
