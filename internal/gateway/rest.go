package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/UkralStul/campus-sync/internal/dataloader"
	"github.com/UkralStul/campus-sync/internal/domain"
	"github.com/UkralStul/campus-sync/internal/media"
	"github.com/UkralStul/campus-sync/internal/mutation"
	"github.com/UkralStul/campus-sync/internal/normalize"
	"github.com/UkralStul/campus-sync/internal/query"
	"github.com/UkralStul/campus-sync/internal/storage"
)

const maxUpload = 32 << 20

type createdBody struct {
	ID string `json:"id"`
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// community читает текущее состояние сообщества для проверки прав.
func (s *Server) community(ctx context.Context, id string) (domain.Community, error) {
	recs, err := s.store.Get(ctx, query.ByID(domain.CollectionCommunities, id))
	if err != nil {
		return domain.Community{}, err
	}
	if len(recs) == 0 {
		return domain.Community{}, fmt.Errorf("community %s: %w", id, storage.ErrNotFound)
	}
	return normalize.Community(recs[0]), nil
}

// === Posts ===

// createPost принимает JSON или multipart с файлами в поле media.
func (s *Server) createPost(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Text        string `json:"text"`
		Kind        string `json:"kind"`
		CommunityID string `json:"communityId"`
	}
	var files []media.File

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUpload); err != nil {
			writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
			return
		}
		in.Text = r.FormValue("text")
		in.Kind = r.FormValue("kind")
		in.CommunityID = r.FormValue("communityId")
		for _, hdr := range r.MultipartForm.File["media"] {
			f, err := hdr.Open()
			if err != nil {
				writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
				return
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
				return
			}
			files = append(files, media.File{Name: hdr.Filename, MimeType: hdr.Header.Get("Content-Type"), Data: data})
		}
	} else if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}

	post := mutation.NewPost{Text: in.Text, Kind: domain.PostKind(in.Kind), Attachments: files}
	if in.CommunityID != "" {
		c, err := s.community(r.Context(), in.CommunityID)
		if err != nil {
			writeError(w, err)
			return
		}
		post.Community = &c
	}

	id, err := s.coord.CreatePost(r.Context(), ActorFrom(r.Context()), post)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createdBody{ID: id})
}

func (s *Server) toggleLike(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Liked bool `json:"liked"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	if err := s.coord.ToggleLike(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "id"), in.Liked); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type textBody struct {
	Text string `json:"text"`
}

func (s *Server) addComment(w http.ResponseWriter, r *http.Request) {
	var in textBody
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	id, err := s.coord.AddComment(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "id"), in.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createdBody{ID: id})
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var in textBody
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	id, err := s.coord.SendMessage(r.Context(), ActorFrom(r.Context()), in.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createdBody{ID: id})
}

func (s *Server) addOpportunity(w http.ResponseWriter, r *http.Request) {
	var in domain.CareerOpportunity
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	id, err := s.coord.AddOpportunity(r.Context(), ActorFrom(r.Context()), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createdBody{ID: id})
}

func (s *Server) addExperience(w http.ResponseWriter, r *http.Request) {
	var in domain.InterviewExperience
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	id, err := s.coord.AddExperience(r.Context(), ActorFrom(r.Context()), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createdBody{ID: id})
}

// === Communities ===

func (s *Server) createCommunity(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name             string `json:"name"`
		Description      string `json:"description"`
		AllowMemberPosts bool   `json:"allowMemberPosts"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	id, err := s.coord.CreateCommunity(r.Context(), ActorFrom(r.Context()), mutation.NewCommunity{
		Name:             in.Name,
		Description:      in.Description,
		AllowMemberPosts: in.AllowMemberPosts,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createdBody{ID: id})
}

// withCommunity загружает сообщество из пути и передаёт его действию.
func (s *Server) withCommunity(w http.ResponseWriter, r *http.Request, action func(domain.Actor, domain.Community) error) {
	c, err := s.community(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := action(ActorFrom(r.Context()), c); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) updateCommunity(w http.ResponseWriter, r *http.Request) {
	var in struct {
		AllowMemberPosts *bool `json:"allowMemberPosts"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	if in.AllowMemberPosts == nil {
		writeError(w, fmt.Errorf("%w: allowMemberPosts is required", errBadRequest))
		return
	}
	s.withCommunity(w, r, func(a domain.Actor, c domain.Community) error {
		return s.coord.SetAllowMemberPosts(r.Context(), a, c, *in.AllowMemberPosts)
	})
}

func (s *Server) deleteCommunity(w http.ResponseWriter, r *http.Request) {
	s.withCommunity(w, r, func(a domain.Actor, c domain.Community) error {
		return s.coord.DeleteCommunity(r.Context(), a, c)
	})
}

func (s *Server) joinCommunity(w http.ResponseWriter, r *http.Request) {
	s.withCommunity(w, r, func(a domain.Actor, c domain.Community) error {
		return s.coord.Join(r.Context(), a, c)
	})
}

func (s *Server) leaveCommunity(w http.ResponseWriter, r *http.Request) {
	s.withCommunity(w, r, func(a domain.Actor, c domain.Community) error {
		return s.coord.Leave(r.Context(), a, c)
	})
}

func (s *Server) kickMember(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UserID string `json:"userId"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	s.withCommunity(w, r, func(a domain.Actor, c domain.Community) error {
		return s.coord.Kick(r.Context(), a, c, in.UserID)
	})
}

// === Profiles ===

func (s *Server) updateProfile(w http.ResponseWriter, r *http.Request) {
	var in struct {
		DisplayName *string `json:"displayName"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	err := s.coord.UpdateProfile(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "id"), mutation.ProfileUpdate{
		DisplayName: in.DisplayName,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// === Feed page ===

type feedItem struct {
	domain.Post
	CommentCount int `json:"commentCount"`
}

type feedPage struct {
	Items     []feedItem `json:"items"`
	Exhausted bool       `json:"exhausted"`
}

// feedPage - разовая страница общей ленты со счётчиками комментариев.
// Счётчики собираются одним запросом через батч-лоадер.
func (s *Server) feedPage(w http.ResponseWriter, r *http.Request) {
	window := query.DefaultWindow
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, fmt.Errorf("%w: limit must be a positive integer", errBadRequest))
			return
		}
		window = n
	}

	spec, err := query.Build(query.ViewGlobalFeed, query.Params{Window: window})
	if err != nil {
		writeError(w, err)
		return
	}
	recs, err := s.store.Get(r.Context(), spec)
	if err != nil {
		writeError(w, err)
		return
	}
	posts := normalize.All(recs, normalize.Post)

	loaders := dataloader.For(r.Context())
	thunks := make([]func() ([]domain.Comment, error), len(posts))
	for i, p := range posts {
		thunks[i] = loaders.CommentsThunk(r.Context(), p.ID)
	}

	page := feedPage{Items: make([]feedItem, len(posts)), Exhausted: len(posts) < window}
	for i, p := range posts {
		comments, err := thunks[i]()
		if err != nil {
			writeError(w, err)
			return
		}
		p.Media = optimized(p.Media)
		page.Items[i] = feedItem{Post: p, CommentCount: len(comments)}
	}
	writeJSON(w, http.StatusOK, page)
}
