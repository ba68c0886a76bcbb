package query

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UkralStul/campus-sync/internal/record"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func post(id string, community any, minutes int) record.Record {
	return record.Record{ID: id, Fields: map[string]any{
		"communityId":          community,
		record.FieldCreatedAt: base.Add(time.Duration(minutes) * time.Minute),
	}}
}

func ids(recs []record.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}

func TestBuild_IdenticalInputsGiveEqualSpecs(t *testing.T) {
	a, err := Build(ViewGlobalFeed, Params{Window: 20})
	require.NoError(t, err)
	b, err := Build(ViewGlobalFeed, Params{Window: 20})
	require.NoError(t, err)
	assert.True(t, a.Equal(b))

	c, err := Build(ViewGlobalFeed, Params{Window: 30})
	require.NoError(t, err)
	assert.False(t, a.Equal(c))
}

func TestBuild_CanonicalSpecs(t *testing.T) {
	feed, err := Build(ViewGlobalFeed, Params{})
	require.NoError(t, err)
	assert.Equal(t, LimitPrefix, feed.Limit.Kind)
	assert.Equal(t, DefaultWindow, feed.Limit.N)
	assert.Equal(t, Desc, feed.OrderBy.Dir)
	assert.Nil(t, feed.Filters[0].Value)

	community, err := Build(ViewCommunityFeed, Params{CommunityID: "c1", Window: 500})
	require.NoError(t, err)
	assert.Equal(t, CommunityFeedCap, community.Limit.N, "community feed ignores the window")

	chat, err := Build(ViewChat, Params{})
	require.NoError(t, err)
	assert.Equal(t, LimitSuffix, chat.Limit.Kind)
	assert.Equal(t, ChatWindow, chat.Limit.N)
	assert.Equal(t, Asc, chat.OrderBy.Dir)
	assert.False(t, chat.Paginated())
}

func TestBuild_Errors(t *testing.T) {
	_, err := Build(ViewCommunityFeed, Params{})
	assert.ErrorIs(t, err, ErrMissingParam)

	_, err = Build(ViewComments, Params{})
	assert.ErrorIs(t, err, ErrMissingParam)

	_, err = Build(View("nope"), Params{})
	assert.ErrorIs(t, err, ErrUnknownView)
}

func TestSpec_WithWindow(t *testing.T) {
	feed, _ := Build(ViewGlobalFeed, Params{})
	grown, err := feed.WithWindow(20)
	require.NoError(t, err)
	assert.Equal(t, 20, grown.Limit.N)
	assert.Equal(t, DefaultWindow, feed.Limit.N)

	chat, _ := Build(ViewChat, Params{})
	_, err = chat.WithWindow(60)
	assert.ErrorIs(t, err, ErrNotPaginated)
}

func TestApply_GlobalAndCommunityFeedsAreDisjoint(t *testing.T) {
	var all []record.Record
	for i := 0; i < 30; i++ {
		var community any
		switch i % 3 {
		case 1:
			community = "c1"
		case 2:
			community = "c2"
		}
		all = append(all, post(fmt.Sprintf("p%02d", i), community, i))
	}
	// старая запись без поля communityId тоже относится к общей ленте
	all = append(all, record.Record{ID: "legacy", Fields: map[string]any{record.FieldCreatedAt: base}})

	global, _ := Build(ViewGlobalFeed, Params{Window: 100})
	community, _ := Build(ViewCommunityFeed, Params{CommunityID: "c1"})

	g := Apply(global, all)
	c := Apply(community, all)
	require.NotEmpty(t, g)
	require.NotEmpty(t, c)
	assert.Contains(t, ids(g), "legacy")
	for _, id := range ids(g) {
		assert.NotContains(t, ids(c), id)
	}
}

func TestApply_PrefixWindowIsNewestFirst(t *testing.T) {
	var all []record.Record
	for i := 0; i < 15; i++ {
		all = append(all, post(fmt.Sprintf("p%02d", i), nil, i))
	}
	feed, _ := Build(ViewGlobalFeed, Params{})
	got := Apply(feed, all)
	require.Len(t, got, 10)
	assert.Equal(t, "p14", got[0].ID)
	assert.Equal(t, "p05", got[9].ID)
}

func TestApply_SuffixWindowDropsOldest(t *testing.T) {
	var all []record.Record
	for i := 0; i < 51; i++ {
		all = append(all, post(fmt.Sprintf("m%02d", i), nil, i))
	}
	chat, _ := Build(ViewChat, Params{})
	got := Apply(chat, all)
	require.Len(t, got, ChatWindow)
	assert.Equal(t, "m01", got[0].ID, "oldest message is dropped")
	assert.Equal(t, "m50", got[49].ID, "newest message is kept last")
}

func TestApply_InAndContains(t *testing.T) {
	recs := []record.Record{
		{ID: "a", Fields: map[string]any{"postId": "p1", "members": []string{"u1", "u2"}}},
		{ID: "b", Fields: map[string]any{"postId": "p2", "members": []any{"u3"}}},
		{ID: "c", Fields: map[string]any{"postId": "p3"}},
	}
	in := CommentsForPosts([]string{"p1", "p2"})
	assert.ElementsMatch(t, []string{"a", "b"}, ids(Apply(in, recs)))

	contains := Spec{Collection: "x", Filters: []Filter{{Field: "members", Op: OpContains, Value: "u3"}}}
	assert.Equal(t, []string{"b"}, ids(Apply(contains, recs)))

	byID := ByID("x", "c")
	assert.Equal(t, []string{"c"}, ids(Apply(byID, recs)))
}
