package view

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UkralStul/campus-sync/internal/domain"
	"github.com/UkralStul/campus-sync/internal/mutation"
	"github.com/UkralStul/campus-sync/internal/query"
	"github.com/UkralStul/campus-sync/internal/storage"
	"github.com/UkralStul/campus-sync/internal/storage/inmemory"
	"github.com/UkralStul/campus-sync/internal/subscription"
)

const wait = time.Second

var (
	alice = domain.Actor{ID: "A", DisplayName: "Alice"}
	bob   = domain.Actor{ID: "B", DisplayName: "Bob"}
)

func newTestStore(t *testing.T) (*inmemory.Store, *mutation.Coordinator) {
	t.Helper()
	store := inmemory.New()
	return store, mutation.New(store, nil)
}

func seedPosts(t *testing.T, c *mutation.Coordinator, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := c.CreatePost(context.Background(), alice, mutation.NewPost{Text: fmt.Sprintf("post %d", i)})
		require.NoError(t, err)
	}
}

func TestFeed_ShortFirstSnapshotIsExhausted(t *testing.T) {
	store, c := newTestStore(t)
	seedPosts(t, c, 7)

	feed := NewFeed(store)
	require.NoError(t, feed.Mount(context.Background()))
	defer feed.Unmount()

	require.Eventually(t, feed.Loaded, wait, 5*time.Millisecond)
	assert.Len(t, feed.Items(), 7)
	assert.True(t, feed.Exhausted())

	grew, err := feed.LoadMore()
	require.NoError(t, err)
	assert.False(t, grew)
	assert.Equal(t, 10, feed.Window())
}

func TestFeed_LoadMoreGrowsWindow(t *testing.T) {
	store, c := newTestStore(t)
	seedPosts(t, c, 25)

	feed := NewFeed(store)
	require.NoError(t, feed.Mount(context.Background()))
	defer feed.Unmount()

	require.Eventually(t, func() bool { return len(feed.Items()) == 10 }, wait, 5*time.Millisecond)
	items := feed.Items()
	assert.Equal(t, "post 24", items[0].Text, "newest first")

	grew, err := feed.LoadMore()
	require.NoError(t, err)
	require.True(t, grew)

	// повторный триггер до снимка окно не растит
	again, err := feed.LoadMore()
	require.NoError(t, err)
	assert.False(t, again)

	require.Eventually(t, func() bool { return len(feed.Items()) == 20 }, wait, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		grew, _ := feed.LoadMore()
		return grew
	}, wait, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(feed.Items()) == 25 }, wait, 5*time.Millisecond)
	require.Eventually(t, feed.Exhausted, wait, 5*time.Millisecond)
	assert.Equal(t, 30, feed.Window())
}

func TestFeed_LiveUpdateReplacesList(t *testing.T) {
	store, c := newTestStore(t)
	seedPosts(t, c, 1)

	changes := make(chan struct{}, 16)
	feed := NewFeed(store, OnChange(func() {
		select {
		case changes <- struct{}{}:
		default:
		}
	}))
	require.NoError(t, feed.Mount(context.Background()))
	defer feed.Unmount()
	require.Eventually(t, feed.Loaded, wait, 5*time.Millisecond)

	post := feed.Items()[0]
	require.NoError(t, c.ToggleLike(context.Background(), bob, post.ID, false))
	require.Eventually(t, func() bool {
		items := feed.Items()
		return len(items) == 1 && items[0].LikedBy.Has(bob.ID)
	}, wait, 5*time.Millisecond)
	assert.NotEmpty(t, changes)
}

func TestFeed_UnmountDropsLateSnapshots(t *testing.T) {
	store, c := newTestStore(t)
	seedPosts(t, c, 2)

	feed := NewFeed(store)
	require.NoError(t, feed.Mount(context.Background()))
	require.Eventually(t, feed.Loaded, wait, 5*time.Millisecond)

	feed.Unmount()
	assert.Equal(t, subscription.Cancelled, feed.State())
	require.Eventually(t, func() bool { return store.Subscribers() == 0 }, wait, 5*time.Millisecond)

	seedPosts(t, c, 3)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, feed.Items(), 2)

	_, err := feed.LoadMore()
	assert.ErrorIs(t, err, ErrNotMounted)
}

// flakyStore отказывает в первых failures подписках.
type flakyStore struct {
	*inmemory.Store
	failures atomic.Int32
}

func (s *flakyStore) Subscribe(ctx context.Context, spec query.Spec) (*storage.Stream, error) {
	if s.failures.Add(-1) >= 0 {
		return nil, errors.New("unavailable")
	}
	return s.Store.Subscribe(ctx, spec)
}

func TestList_RemountAfterFailure(t *testing.T) {
	mem, c := newTestStore(t)
	seedPosts(t, c, 3)
	store := &flakyStore{Store: mem}
	store.failures.Store(1)

	feed := NewFeed(store)
	defer feed.Unmount()
	require.Error(t, feed.Mount(context.Background()))
	assert.Equal(t, subscription.Failed, feed.State())

	require.NoError(t, feed.Mount(context.Background()))
	require.Eventually(t, feed.Loaded, wait, 5*time.Millisecond)
	assert.Len(t, feed.Items(), 3)

	// смонтированный экран второй раз не переоткрывается
	require.NoError(t, feed.Mount(context.Background()))
	assert.Equal(t, 1, mem.Subscribers())
}

func TestList_MountAfterUnmountFails(t *testing.T) {
	store, _ := newTestStore(t)

	feed := NewFeed(store)
	require.NoError(t, feed.Mount(context.Background()))
	feed.Unmount()

	assert.ErrorIs(t, feed.Mount(context.Background()), subscription.ErrClosed)
	assert.Zero(t, store.Subscribers())
}

func TestCommunityFeed_EventsTab(t *testing.T) {
	store, c := newTestStore(t)
	ctx := context.Background()

	id, err := c.CreateCommunity(ctx, alice, mutation.NewCommunity{Name: "Robotics"})
	require.NoError(t, err)
	detail := NewCommunityDetail(store, id)
	require.NoError(t, detail.Mount(ctx))
	defer detail.Unmount()
	require.Eventually(t, detail.Loaded, wait, 5*time.Millisecond)
	robotics, ok := detail.Current()
	require.True(t, ok)

	_, err = c.CreatePost(ctx, alice, mutation.NewPost{Text: "weekly sync", Community: &robotics})
	require.NoError(t, err)
	_, err = c.CreatePost(ctx, alice, mutation.NewPost{Text: "hackathon", Kind: domain.KindEvent, Community: &robotics})
	require.NoError(t, err)
	_, err = c.CreatePost(ctx, alice, mutation.NewPost{Text: "global"})
	require.NoError(t, err)

	feed := NewCommunityFeed(store, id)
	require.NoError(t, feed.Mount(ctx))
	defer feed.Unmount()
	require.Eventually(t, feed.Loaded, wait, 5*time.Millisecond)

	assert.Len(t, feed.Items(), 2)
	events := feed.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "hackathon", events[0].Text)

	grew, err := feed.LoadMore()
	require.NoError(t, err)
	assert.False(t, grew, "community feed has a fixed cap")
}

func TestDirectory_MineAndExplore(t *testing.T) {
	store, c := newTestStore(t)
	ctx := context.Background()

	_, err := c.CreateCommunity(ctx, alice, mutation.NewCommunity{Name: "Robotics"})
	require.NoError(t, err)
	_, err = c.CreateCommunity(ctx, bob, mutation.NewCommunity{Name: "Chess"})
	require.NoError(t, err)

	dir := NewDirectory(store)
	require.NoError(t, dir.Mount(ctx))
	defer dir.Unmount()
	require.Eventually(t, func() bool { return len(dir.Items()) == 2 }, wait, 5*time.Millisecond)

	mine := dir.Mine(alice)
	require.Len(t, mine, 1)
	assert.Equal(t, "Robotics", mine[0].Name)
	explore := dir.Explore(alice)
	require.Len(t, explore, 1)
	assert.Equal(t, "Chess", explore[0].Name)
}

func TestCommunityDetail_RosterFollowsMembership(t *testing.T) {
	store, c := newTestStore(t)
	ctx := context.Background()

	id, err := c.CreateCommunity(ctx, alice, mutation.NewCommunity{Name: "Robotics"})
	require.NoError(t, err)

	detail := NewCommunityDetail(store, id)
	require.NoError(t, detail.Mount(ctx))
	defer detail.Unmount()
	require.Eventually(t, detail.Loaded, wait, 5*time.Millisecond)
	assert.Equal(t, []string{"A"}, detail.Roster())

	robotics, _ := detail.Current()
	require.NoError(t, c.Join(ctx, bob, robotics))
	require.Eventually(t, func() bool { return len(detail.Roster()) == 2 }, wait, 5*time.Millisecond)

	robotics, _ = detail.Current()
	require.NoError(t, c.DeleteCommunity(ctx, alice, robotics))
	require.Eventually(t, func() bool {
		_, ok := detail.Current()
		return !ok
	}, wait, 5*time.Millisecond)
}

func TestChat_KeepsTrailingWindow(t *testing.T) {
	store, c := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 51; i++ {
		_, err := c.SendMessage(ctx, alice, fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}

	chat := NewChat(store)
	require.NoError(t, chat.Mount(ctx))
	defer chat.Unmount()
	require.Eventually(t, chat.Loaded, wait, 5*time.Millisecond)

	msgs := chat.Items()
	require.Len(t, msgs, 50)
	assert.Equal(t, "m1", msgs[0].Text)
	assert.Equal(t, "m50", msgs[49].Text)
}

func TestComments_OnlyForOnePost(t *testing.T) {
	store, c := newTestStore(t)
	ctx := context.Background()

	first, err := c.CreatePost(ctx, alice, mutation.NewPost{Text: "one"})
	require.NoError(t, err)
	second, err := c.CreatePost(ctx, alice, mutation.NewPost{Text: "two"})
	require.NoError(t, err)
	_, err = c.AddComment(ctx, bob, first, "first!")
	require.NoError(t, err)
	_, err = c.AddComment(ctx, bob, second, "second!")
	require.NoError(t, err)

	comments := NewComments(store, first)
	require.NoError(t, comments.Mount(ctx))
	defer comments.Unmount()
	require.Eventually(t, comments.Loaded, wait, 5*time.Millisecond)

	items := comments.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "first!", items[0].Text)
	assert.Equal(t, "Bob", items[0].AuthorName)
}
