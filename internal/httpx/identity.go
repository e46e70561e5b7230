package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/ariefcatur/go-realtime-pos/internal/apperr"
	"github.com/ariefcatur/go-realtime-pos/internal/orders"
)

// Identity headers set by the session gateway in front of the API.
const (
	HeaderUserID  = "X-User-Id"
	HeaderRole    = "X-User-Role"
	HeaderStoreID = "X-Store-Id"
)

type actorKey struct{}

func WithActor(ctx context.Context, a orders.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

func ActorFrom(ctx context.Context) (orders.Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(orders.Actor)
	return a, ok
}

// Identity rejects requests without a user id and a known role in the
// identity headers.
func Identity(next http.Handler) http.Handler {
	return identity(next, false)
}

// StreamIdentity is Identity for event streams: browser EventSource clients
// cannot set headers, so userId, role and storeId query parameters are
// accepted when the headers are absent.
func StreamIdentity(next http.Handler) http.Handler {
	return identity(next, true)
}

func identity(next http.Handler, fromQuery bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a := orders.Actor{
			UserID:  r.Header.Get(HeaderUserID),
			Role:    orders.Role(r.Header.Get(HeaderRole)),
			StoreID: r.Header.Get(HeaderStoreID),
		}
		if fromQuery {
			q := r.URL.Query()
			a.UserID = firstOf(a.UserID, q.Get("userId"))
			a.Role = orders.Role(firstOf(string(a.Role), q.Get("role")))
			a.StoreID = firstOf(a.StoreID, q.Get("storeId"))
		}
		a.UserID = strings.TrimSpace(a.UserID)
		a.Role = orders.Role(strings.ToUpper(strings.TrimSpace(string(a.Role))))
		a.StoreID = strings.TrimSpace(a.StoreID)
		if a.UserID == "" || !a.Role.Valid() {
			writeError(w, r, apperr.New(apperr.KindUnauthenticated, apperr.CodeUnauthenticated, "missing or invalid identity"))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), a)))
	})
}

func firstOf(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
