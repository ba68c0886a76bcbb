package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UkralStul/campus-sync/internal/domain"
	"github.com/UkralStul/campus-sync/internal/record"
)

var created = time.Date(2025, 2, 14, 9, 30, 0, 0, time.UTC)

func withCreatedAt(id string, fields map[string]any) record.Record {
	fields[record.FieldCreatedAt] = created
	return record.Record{ID: id, Fields: fields}
}

func TestPost_LegacyRecordGetsDefaults(t *testing.T) {
	p := Post(record.Record{ID: "p1", Fields: map[string]any{
		"authorId": "u1",
		"text":     "old post",
		"type":     "event",
	}})

	assert.Equal(t, "p1", p.ID)
	assert.NotNil(t, p.LikedBy)
	assert.Equal(t, 0, p.LikedBy.Len())
	assert.Equal(t, domain.KindEvent, p.Kind)
	assert.Equal(t, DefaultAuthorName, p.AuthorName)
	assert.Nil(t, p.CommunityID)
	assert.NotNil(t, p.Media)
	assert.True(t, p.CreatedAt.IsZero())
}

func TestPost_LegacyLikesAndMediaType(t *testing.T) {
	p := Post(withCreatedAt("p1", map[string]any{
		"likes":       []any{"u2", "u1", "u2"},
		"communityId": "c1",
		"media": []any{
			map[string]any{"url": "https://cdn/x.png", "type": "image/jpeg"},
			map[string]any{"url": ""},
			"not a media object",
		},
	}))

	assert.Equal(t, domain.NewSet("u1", "u2"), p.LikedBy)
	require.NotNil(t, p.CommunityID)
	assert.Equal(t, "c1", *p.CommunityID)
	require.Len(t, p.Media, 1)
	assert.Equal(t, "image/jpeg", p.Media[0].MimeType)
	assert.Equal(t, created, p.CreatedAt)
}

func TestPost_MalformedFieldsNeverFail(t *testing.T) {
	assert.NotPanics(t, func() {
		p := Post(record.Record{ID: "bad", Fields: map[string]any{
			"likedBy":   map[string]any{"weird": true},
			"createdAt": "not a time",
			"kind":      42,
			"text":      []any{"x"},
		}})
		assert.Equal(t, domain.KindFeed, p.Kind)
		assert.Equal(t, 0, p.LikedBy.Len())
		assert.True(t, p.CreatedAt.IsZero())
	})
	assert.NotPanics(t, func() { Post(record.Record{}) })
}

func TestPost_Idempotent(t *testing.T) {
	community := "c9"
	original := domain.Post{
		ID:          "p7",
		AuthorID:    "u1",
		AuthorName:  "alice",
		CommunityID: &community,
		Kind:        domain.KindNews,
		Text:        "hello",
		Media:       []domain.Media{{URL: "https://cdn/a.png", MimeType: "image/png"}},
		LikedBy:     domain.NewSet("u3", "u2"),
		CreatedAt:   created,
	}
	once := Post(withCreatedAt(original.ID, original.Fields()))
	twice := Post(withCreatedAt(once.ID, once.Fields()))
	assert.Equal(t, original, once)
	assert.Equal(t, once, twice)
}

func TestCommunity_OwnerAlwaysMember(t *testing.T) {
	c := Community(withCreatedAt("c1", map[string]any{
		"name":    "Robotics",
		"ownerId": "A",
		"members": []any{"B"},
	}))
	assert.True(t, c.Members.Has("A"))
	assert.True(t, c.Members.Has("B"))
	assert.False(t, c.AllowMemberPosts)

	legacy := Community(record.Record{ID: "c2", Fields: map[string]any{"ownerId": "A"}})
	assert.Equal(t, domain.NewSet("A"), legacy.Members)
}

func TestCommunity_WeakBool(t *testing.T) {
	c := Community(record.Record{ID: "c1", Fields: map[string]any{"ownerId": "A", "allowMemberPosts": "true"}})
	assert.True(t, c.AllowMemberPosts)
}

func TestChatMessage_LegacySenderFields(t *testing.T) {
	m := ChatMessage(withCreatedAt("m1", map[string]any{
		"uid":         "u1",
		"displayName": "Bob",
		"text":        "hi",
	}))
	assert.Equal(t, "u1", m.SenderID)
	assert.Equal(t, "Bob", m.SenderName)
}

func TestOpportunity_StatusDefaultsToHiring(t *testing.T) {
	o := Opportunity(withCreatedAt("j1", map[string]any{
		"companyName": "Acme",
		"ctc":         "12 LPA",
		"type":        "Internship",
	}))
	assert.Equal(t, domain.StatusHiring, o.Status)
	assert.Equal(t, "12 LPA", o.Compensation)
	assert.Equal(t, "Internship", o.EmploymentKind)

	expired := Opportunity(record.Record{ID: "j2", Fields: map[string]any{"status": "Expired"}})
	assert.Equal(t, domain.StatusExpired, expired.Status)
}

func TestExperience_Defaults(t *testing.T) {
	e := Experience(record.Record{ID: "e1", Fields: map[string]any{"difficulty": "Impossible"}})
	assert.Equal(t, domain.DifficultyMedium, e.Difficulty)
	assert.NotNil(t, e.Rounds)
	assert.Empty(t, e.Rounds)
	assert.Equal(t, DefaultAuthorName, e.AuthorName)
}

func TestCreatedAt_FromStringAndEpoch(t *testing.T) {
	fromString := Comment(record.Record{ID: "c1", Fields: map[string]any{"createdAt": created.Format(time.RFC3339Nano)}})
	assert.True(t, created.Equal(fromString.CreatedAt))

	fromEpoch := Comment(record.Record{ID: "c2", Fields: map[string]any{"createdAt": created.UnixMilli()}})
	assert.True(t, created.Equal(fromEpoch.CreatedAt))
}

func TestAll_KeepsOrder(t *testing.T) {
	recs := []record.Record{{ID: "b"}, {ID: "a"}}
	got := All(recs, Profile)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "a", got[1].ID)
}
