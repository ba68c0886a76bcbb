package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/UkralStul/campus-sync/internal/domain"
	"github.com/UkralStul/campus-sync/internal/media"
	"github.com/UkralStul/campus-sync/internal/query"
	"github.com/UkralStul/campus-sync/internal/view"
)

// liveView - экран, который шлюз держит открытым на время соединения.
type liveView interface {
	Mount(ctx context.Context) error
	Unmount()
	LoadMore() (bool, error)
	Exhausted() bool
	Window() int
	Err() error
	payload() map[string]any
}

type listAdapter[T any] struct {
	*view.List[T]
	extra func(m map[string]any)
}

func (a listAdapter[T]) payload() map[string]any {
	m := map[string]any{"items": a.Items()}
	if a.extra != nil {
		a.extra(m)
	}
	return m
}

// Message - кадр WebSocket. Клиент шлёт {"type":"more"} при прокрутке.
type Message struct {
	Type      string         `json:"type"`
	View      string         `json:"view,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Exhausted bool           `json:"exhausted,omitempty"`
	Window    int            `json:"window,omitempty"`
	Error     string         `json:"error,omitempty"`
}

func (s *Server) openView(r *http.Request, actor domain.Actor, onChange func()) (liveView, error) {
	name := query.View(chi.URLParam(r, "view"))
	q := r.URL.Query()
	params := query.Params{CommunityID: q.Get("communityId"), PostID: q.Get("postId")}
	if _, err := query.Build(name, params); err != nil {
		return nil, err
	}
	opt := view.OnChange(onChange)

	switch name {
	case query.ViewGlobalFeed:
		return listAdapter[domain.Post]{List: view.NewFeed(s.store, opt), extra: optimizeMedia}, nil
	case query.ViewCommunityFeed:
		f := view.NewCommunityFeed(s.store, params.CommunityID, opt)
		return listAdapter[domain.Post]{List: f.List, extra: func(m map[string]any) {
			optimizeMedia(m)
			// события из того же снимка, что и items
			posts, _ := m["items"].([]domain.Post)
			m["events"] = view.EventsOf(posts)
		}}, nil
	case query.ViewChat:
		return listAdapter[domain.ChatMessage]{List: view.NewChat(s.store, opt)}, nil
	case query.ViewJobBoard:
		return listAdapter[domain.CareerOpportunity]{List: view.NewJobBoard(s.store, opt)}, nil
	case query.ViewExperiences:
		return listAdapter[domain.InterviewExperience]{List: view.NewExperiences(s.store, opt)}, nil
	case query.ViewCommunities:
		d := view.NewDirectory(s.store, opt)
		return listAdapter[domain.Community]{List: d.List, extra: func(m map[string]any) {
			m["mine"] = d.Mine(actor)
			m["explore"] = d.Explore(actor)
		}}, nil
	case query.ViewCommunity:
		c := view.NewCommunityDetail(s.store, params.CommunityID, opt)
		return listAdapter[domain.Community]{List: c.List, extra: func(m map[string]any) {
			m["roster"] = c.Roster()
		}}, nil
	case query.ViewComments:
		return listAdapter[domain.Comment]{List: view.NewComments(s.store, params.PostID, opt)}, nil
	}
	return nil, fmt.Errorf("%q: %w", name, query.ErrUnknownView)
}

// optimizeMedia подменяет ссылки на вложения; срезы Media копируются,
// чтобы не трогать снимок экрана.
func optimizeMedia(m map[string]any) {
	posts, _ := m["items"].([]domain.Post)
	for i := range posts {
		posts[i].Media = optimized(posts[i].Media)
	}
}

func optimized(in []domain.Media) []domain.Media {
	out := make([]domain.Media, len(in))
	for i, md := range in {
		md.URL = media.Optimize(md.URL)
		out[i] = md
	}
	return out
}

// live держит экран смонтированным, пока открыто соединение, и отправляет
// клиенту каждый новый снимок.
func (s *Server) live(w http.ResponseWriter, r *http.Request) {
	changed := make(chan struct{}, 1)
	notify := func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}

	v, err := s.openView(r, ActorFrom(r.Context()), notify)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Errorf("[gateway] websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	defer v.Unmount()
	if err := v.Mount(ctx); err != nil {
		_ = conn.WriteJSON(Message{Type: "error", Error: err.Error()})
		return
	}

	name := chi.URLParam(r, "view")
	glog.V(2).Infof("[gateway] live %s opened", name)

	// чтение: запросы на подгрузку и закрытие соединения
	go func() {
		defer cancel()
		for {
			var msg Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type != "more" {
				continue
			}
			if _, err := v.LoadMore(); err != nil {
				glog.Errorf("[gateway] %s load more: %v", name, err)
			}
			// окно могло не вырасти; клиенту всё равно нужен ответ с exhausted
			notify()
		}
	}()

	ping := time.NewTicker(keepAlive)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-changed:
			msg := Message{Type: "snapshot", View: name, Data: v.payload(), Exhausted: v.Exhausted(), Window: v.Window()}
			if err := v.Err(); err != nil {
				msg.Type = "error"
				msg.Error = err.Error()
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(keepAlive)); err != nil {
				return
			}
		}
	}
}
