package auth

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/rpattn/csvmodels/internal/web"
)

type loginPage struct {
	Next     string
	Username string
	Error    string
}

// Handlers serves the login and logout pages.
type Handlers struct {
	service  *Service
	renderer *web.Renderer
	logger   *zap.Logger
}

func NewHandlers(service *Service, renderer *web.Renderer, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{service: service, renderer: renderer, logger: logger}
}

// Login renders the form on GET and opens a session on POST.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		next := safeNext(r.URL.Query().Get("next"))
		if IsAuthenticated(r.Context()) {
			http.Redirect(w, r, next, http.StatusFound)
			return
		}
		h.renderer.Render(w, http.StatusOK, "login.html", loginPage{Next: next})
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	page := loginPage{Next: safeNext(r.PostForm.Get("next")), Username: r.PostForm.Get("username")}

	user, err := h.service.Authenticate(r.Context(), page.Username, r.PostForm.Get("password"))
	if errors.Is(err, ErrInvalidCredentials) {
		h.logger.Info("failed login", zap.String("username", page.Username))
		page.Error = err.Error()
		h.renderer.Render(w, http.StatusUnauthorized, "login.html", page)
		return
	}
	if err != nil {
		h.logger.Error("failed to authenticate", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if err := h.service.StartSession(r.Context(), w, user); err != nil {
		h.logger.Error("failed to start session", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	h.logger.Info("operator logged in", zap.String("username", user.Username))
	http.Redirect(w, r, page.Next, http.StatusSeeOther)
}

// Logout ends the session and returns to the login page.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.EndSession(w, r); err != nil {
		h.logger.Error("failed to end session", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}
