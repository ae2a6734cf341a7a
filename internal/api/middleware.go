package api

import (
	"fmt"
	"net/http"
)

// errorHandler turns handler panics into a 500 response instead of
// letting one bad request tear down the process and every websocket on
// it.
func (a *App) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				err, ok := v.(error)
				if !ok {
					err = fmt.Errorf("%v", v)
				}

				a.log.Printf("panic serving %s %s: %v", r.Method, r.URL.Path, err)
				errResp := NewInternalServerError(err)
				w.Header().Set("Connection", "close")
				a.writeJson(w, errResp.StatusCode, errResp)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// authMiddleware resolves the session cookie to a user id and puts it on
// the request context. Both the REST handlers and the websocket upgrade
// sit behind it; the listener binary sends the same cookie on its dial.
func (a *App) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenCookie, err := r.Cookie(tokenCookieKey)
		if err != nil {
			a.unauthorized(w)
			return
		}

		userId, err := a.extractUserIdFromToken(tokenCookie.Value)
		if err != nil {
			a.log.Printf("reject %s %s: %v", r.Method, r.URL.Path, err)
			a.unauthorized(w)
			return
		}

		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
		next(w, r.WithContext(WithUserId(r.Context(), userId)))
	}
}

func (a *App) unauthorized(w http.ResponseWriter) {
	errResp := NewUnauthorizedError()
	a.writeJson(w, errResp.StatusCode, errResp)
}
