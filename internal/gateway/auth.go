package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/UkralStul/campus-sync/internal/domain"
)

type actorKey struct{}

var errInvalidToken = errors.New("invalid token")

// Claims - поля токена, из которых берётся личность. Токены выпускает
// внешний провайдер; шлюз их только проверяет.
type Claims struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// ActorFrom возвращает пользователя запроса; без токена - аноним.
func ActorFrom(ctx context.Context) domain.Actor {
	a, _ := ctx.Value(actorKey{}).(domain.Actor)
	return a
}

// WithActor кладёт пользователя в контекст.
func WithActor(ctx context.Context, a domain.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// actorMiddleware проверяет Bearer-токен. Запрос без токена идёт дальше
// анонимно, с неверным токеном - отклоняется.
func (s *Server) actorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearer(r)
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}
		actor, err := s.parseToken(raw)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: err.Error()})
			return
		}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

func (s *Server) parseToken(raw string) (domain.Actor, error) {
	if len(s.secret) == 0 {
		return domain.Actor{}, errInvalidToken
	}
	claims := &Claims{}
	t, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !t.Valid || claims.Subject == "" {
		return domain.Actor{}, errInvalidToken
	}
	return domain.Actor{ID: claims.Subject, DisplayName: claims.Name, Email: claims.Email}, nil
}

// bearer берёт токен из заголовка или, для WebSocket, из параметра token.
func bearer(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return r.URL.Query().Get("token")
}
