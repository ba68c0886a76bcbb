package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UkralStul/campus-sync/internal/domain"
	"github.com/UkralStul/campus-sync/internal/mutation"
	"github.com/UkralStul/campus-sync/internal/storage/inmemory"
)

const secret = "test-secret"

var (
	alice = domain.Actor{ID: "A", DisplayName: "Alice", Email: "alice@campus.edu"}
	bob   = domain.Actor{ID: "B", DisplayName: "Bob"}
)

type fixture struct {
	store *inmemory.Store
	coord *mutation.Coordinator
	srv   *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := inmemory.New()
	coord := mutation.New(store, nil)
	srv := httptest.NewServer(New(store, coord, secret).Routes())
	t.Cleanup(srv.Close)
	return &fixture{store: store, coord: coord, srv: srv}
}

func token(t *testing.T, a domain.Actor) string {
	t.Helper()
	claims := Claims{
		Name:  a.DisplayName,
		Email: a.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   a.ID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return raw
}

func (f *fixture) do(t *testing.T, method, path, tok string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func createdID(t *testing.T, resp *http.Response) string {
	t.Helper()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var out createdBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out.ID)
	return out.ID
}

func TestParseToken(t *testing.T) {
	s := New(nil, nil, secret)

	actor, err := s.parseToken(token(t, alice))
	require.NoError(t, err)
	assert.Equal(t, alice, actor)

	_, err = s.parseToken("garbage")
	assert.ErrorIs(t, err, errInvalidToken)

	other, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "A"},
	}).SignedString([]byte("another-secret"))
	require.NoError(t, err)
	_, err = s.parseToken(other)
	assert.ErrorIs(t, err, errInvalidToken)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Name: "x"}).SignedString([]byte(secret))
	require.NoError(t, err)
	_, err = s.parseToken(noSubject)
	assert.ErrorIs(t, err, errInvalidToken)
}

func TestServer_InvalidTokenIsUnauthorized(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodPost, "/api/messages", "garbage", textBody{Text: "hi"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_AnonymousMutationIsForbidden(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodPost, "/api/messages", "", textBody{Text: "hi"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestServer_EmptyTextIsBadRequest(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodPost, "/api/posts", token(t, alice), map[string]string{"text": "   "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_UnknownCommunityIsNotFound(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodPost, "/api/communities/missing/join", token(t, bob), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_CommunityFlow(t *testing.T) {
	f := newFixture(t)
	aliceTok, bobTok := token(t, alice), token(t, bob)

	id := createdID(t, f.do(t, http.MethodPost, "/api/communities", aliceTok, map[string]any{
		"name": "Robotics", "description": "Build robots",
	}))

	// посты участников выключены
	resp := f.do(t, http.MethodPost, "/api/communities/"+id+"/join", bobTok, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp = f.do(t, http.MethodPost, "/api/posts", bobTok, map[string]string{"text": "hello", "communityId": id})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// только владелец исключает
	resp = f.do(t, http.MethodPost, "/api/communities/"+id+"/kick", bobTok, map[string]string{"userId": "A"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = f.do(t, http.MethodPatch, "/api/communities/"+id, aliceTok, map[string]bool{"allowMemberPosts": true})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	createdID(t, f.do(t, http.MethodPost, "/api/posts", bobTok, map[string]string{"text": "hello", "communityId": id}))

	resp = f.do(t, http.MethodPost, "/api/communities/"+id+"/kick", aliceTok, map[string]string{"userId": "B"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	c, err := New(f.store, f.coord, secret).community(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, c.Members.Has("B"))
	assert.True(t, c.Members.Has("A"))

	resp = f.do(t, http.MethodPatch, "/api/communities/"+id, aliceTok, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_FeedPageCountsComments(t *testing.T) {
	f := newFixture(t)
	tok := token(t, alice)

	first := createdID(t, f.do(t, http.MethodPost, "/api/posts", tok, map[string]string{"text": "first"}))
	createdID(t, f.do(t, http.MethodPost, "/api/posts", tok, map[string]string{"text": "second"}))
	for i := 0; i < 2; i++ {
		createdID(t, f.do(t, http.MethodPost, "/api/posts/"+first+"/comments", tok, textBody{Text: "nice"}))
	}

	resp := f.do(t, http.MethodGet, "/api/feed?limit=5", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page struct {
		Items []struct {
			ID           string `json:"id"`
			Text         string `json:"text"`
			CommentCount int    `json:"commentCount"`
		} `json:"items"`
		Exhausted bool `json:"exhausted"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&page))
	require.Len(t, page.Items, 2)
	assert.Equal(t, "second", page.Items[0].Text)
	assert.Equal(t, 0, page.Items[0].CommentCount)
	assert.Equal(t, first, page.Items[1].ID)
	assert.Equal(t, 2, page.Items[1].CommentCount)
	assert.True(t, page.Exhausted)

	resp = f.do(t, http.MethodGet, "/api/feed?limit=-1", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_ProfileOwnerOnly(t *testing.T) {
	f := newFixture(t)
	name := "Bobby"
	resp := f.do(t, http.MethodPatch, "/api/profiles/A", token(t, bob), map[string]*string{"displayName": &name})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusOf(mutation.ErrEmptyName))
	assert.Equal(t, http.StatusInternalServerError, statusOf(assert.AnError))
}

func dial(t *testing.T, f *fixture, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

type wireSnapshot struct {
	Type      string `json:"type"`
	View      string `json:"view"`
	Exhausted bool   `json:"exhausted"`
	Window    int    `json:"window"`
	Data      struct {
		Items []map[string]any `json:"items"`
	} `json:"data"`
}

// readUntil читает кадры, пока не придёт снимок, удовлетворяющий ok.
func readUntil(t *testing.T, conn *websocket.Conn, ok func(wireSnapshot) bool) wireSnapshot {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var msg wireSnapshot
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == "snapshot" && ok(msg) {
			return msg
		}
	}
}

func TestLive_FeedPushesSnapshots(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 12; i++ {
		_, err := f.coord.CreatePost(context.Background(), alice, mutation.NewPost{Text: "post"})
		require.NoError(t, err)
	}

	conn := dial(t, f, "/ws/feed")
	first := readUntil(t, conn, func(s wireSnapshot) bool { return len(s.Data.Items) == 10 })
	assert.Equal(t, "feed", first.View)
	assert.Equal(t, 10, first.Window)
	assert.False(t, first.Exhausted)

	require.NoError(t, conn.WriteJSON(Message{Type: "more"}))
	grown := readUntil(t, conn, func(s wireSnapshot) bool { return len(s.Data.Items) == 12 })
	assert.Equal(t, 20, grown.Window)
	assert.True(t, grown.Exhausted)

	_, err := f.coord.CreatePost(context.Background(), bob, mutation.NewPost{Text: "live"})
	require.NoError(t, err)
	live := readUntil(t, conn, func(s wireSnapshot) bool { return len(s.Data.Items) == 13 })
	assert.Equal(t, "live", live.Data.Items[0]["text"])
}

func TestLive_DisconnectReleasesSubscription(t *testing.T) {
	f := newFixture(t)
	conn := dial(t, f, "/ws/chat")
	readUntil(t, conn, func(wireSnapshot) bool { return true })
	require.Equal(t, 1, f.store.Subscribers())

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return f.store.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestLive_UnknownViewIsBadRequest(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/ws/nope", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/ws/comments", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLive_CommunityEventsShareOptimizedItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const url = "https://res.cloudinary.com/demo/image/upload/v1/robot.jpg"
	for _, kind := range []domain.PostKind{domain.KindEvent, domain.KindFeed} {
		_, err := f.store.Create(ctx, domain.CollectionPosts, domain.Post{
			AuthorID:    "A",
			CommunityID: func() *string { id := "robotics"; return &id }(),
			Kind:        kind,
			Text:        string(kind),
			Media:       []domain.Media{{URL: url, MimeType: "image/jpeg"}},
		}.Fields())
		require.NoError(t, err)
	}

	conn := dial(t, f, "/ws/community-feed?communityId=robotics")
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var msg struct {
		Type string `json:"type"`
		Data struct {
			Items  []domain.Post `json:"items"`
			Events []domain.Post `json:"events"`
		} `json:"data"`
	}
	for len(msg.Data.Items) < 2 {
		require.NoError(t, conn.ReadJSON(&msg))
	}
	require.Equal(t, "snapshot", msg.Type)
	require.Len(t, msg.Data.Events, 1)
	assert.Equal(t, "event", msg.Data.Events[0].Text)

	optimizedURL := "https://res.cloudinary.com/demo/image/upload/w_800,q_auto,f_auto/v1/robot.jpg"
	assert.Equal(t, optimizedURL, msg.Data.Events[0].Media[0].URL)
	for _, p := range msg.Data.Items {
		assert.Equal(t, optimizedURL, p.Media[0].URL)
	}
}

func TestServer_CommentOnMissingPostIsNotFound(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodPost, "/api/posts/missing/comments", token(t, alice), textBody{Text: "hi"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
