// Package httphandler serves the admin API and a read only web view of the user files.
package httphandler

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/telebroad/ftpserver/filesystem"
	"github.com/telebroad/ftpserver/ftp"
	"github.com/telebroad/ftpserver/tools"
	"github.com/telebroad/ftpserver/users"
)

// Sessions lists the connected FTP sessions.
type Sessions interface {
	Snapshot() []ftp.SessionInfo
}

// FSFactory returns the file system of a logged in user.
type FSFactory func(u *users.User) (filesystem.FS, error)

// UserInfo is a user as the API shows it, the password is never returned.
type UserInfo struct {
	Login           string   `json:"login"`
	HomeDir         string   `json:"home"`
	Enabled         bool     `json:"enabled"`
	WritePermission bool     `json:"write"`
	Admin           bool     `json:"admin"`
	MaxIdleTime     int      `json:"idle_time"`
	MaxUploadRate   int      `json:"upload_rate"`
	MaxDownloadRate int      `json:"download_rate"`
	MaxLoginNumber  int      `json:"max_login_number"`
	MaxLoginPerIP   int      `json:"max_login_per_ip"`
	IPs             []string `json:"ips,omitempty"`
}

// FileInfo is a directory entry returned by the files route.
type FileInfo struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	IsDir    bool      `json:"is_dir"`
	Writable bool      `json:"writable"`
	ModTime  time.Time `json:"mod_time"`
}

type userKey struct{}

// Handler routes the admin API.
//
//	GET /healthz                 liveness, no authentication
//	GET /metrics                 prometheus metrics, admin only
//	GET /api/v1/sessions         connected sessions, admin only
//	GET /api/v1/users            every user, admin only
//	GET /api/v1/users/{login}    one user, admin only
//	GET /files/{path}            the caller's own files
type Handler struct {
	users      users.Manager
	sessions   Sessions
	fileSystem FSFactory
	logger     *slog.Logger
	router     *mux.Router
}

// NewHandler creates the admin handler. sessions and fsys may be nil, their routes then answer 404.
func NewHandler(um users.Manager, sessions Sessions, fsys FSFactory) *Handler {
	h := &Handler{
		users:      um,
		sessions:   sessions,
		fileSystem: fsys,
	}
	h.router = h.setupRoutes()
	return h
}

func (h *Handler) SetLogger(l *slog.Logger) {
	h.logger = l
}

func (h *Handler) Logger() *slog.Logger {
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h.logger.With("module", "http-server-handler")
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) setupRoutes() *mux.Router {
	router := mux.NewRouter()
	router.Use(h.loggingMiddleware)

	router.HandleFunc("/healthz", h.handleHealth).Methods(http.MethodGet)

	admin := router.NewRoute().Subrouter()
	admin.Use(h.authMiddleware, h.adminMiddleware)
	admin.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := admin.PathPrefix("/api/v1").Subrouter()
	if h.sessions != nil {
		v1.HandleFunc("/sessions", h.handleListSessions).Methods(http.MethodGet)
	}
	v1.HandleFunc("/users", h.handleListUsers).Methods(http.MethodGet)
	v1.HandleFunc("/users/{login}", h.handleGetUser).Methods(http.MethodGet)

	if h.fileSystem != nil {
		files := router.PathPrefix("/files").Subrouter()
		files.Use(h.authMiddleware)
		files.HandleFunc("", h.handleFiles).Methods(http.MethodGet, http.MethodHead)
		files.HandleFunc("/{path:.*}", h.handleFiles).Methods(http.MethodGet, http.MethodHead)
	}
	return router
}

func (h *Handler) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := tools.NewHttpResponseWriter(w)
		next.ServeHTTP(lw, r)
		h.Logger().Debug("ServeHTTP",
			"method", r.Method,
			"url", r.URL.String(),
			"remote", r.RemoteAddr,
			"status", lw.Status,
			"bytes", lw.Bytes,
			"duration", time.Since(start),
		)
	})
}

// authMiddleware checks the basic auth credentials against the user manager.
func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		login, password, ok := r.BasicAuth()
		if !ok {
			h.unauthorized(w, "Authorization header required")
			return
		}

		remoteIP, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			remoteIP = r.RemoteAddr
		}
		u, err := h.users.Authenticate(r.Context(), users.UsernamePasswordCredential{
			Username:   login,
			Password:   password,
			RemoteAddr: remoteIP,
		})
		if err != nil {
			h.Logger().Warn("authentication_failed", "login", login, "remote", remoteIP, "error", err)
			h.unauthorized(w, "Invalid credentials")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, u)))
	})
}

func (h *Handler) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u := userFromContext(r.Context())
		if u == nil || !h.users.IsAdmin(u.Login) {
			writeError(w, http.StatusForbidden, "Admin only")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
	writeError(w, http.StatusUnauthorized, message)
}

func userFromContext(ctx context.Context) *users.User {
	u, _ := ctx.Value(userKey{}).(*users.User)
	return u
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	sessions := h.sessions.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	logins, err := h.users.ListLogins(r.Context())
	if err != nil {
		h.Logger().Error("error listing users", "error", err)
		writeError(w, http.StatusInternalServerError, "Error listing users")
		return
	}

	list := make([]UserInfo, 0, len(logins))
	for _, login := range logins {
		u, err := h.users.Get(r.Context(), login)
		if errors.Is(err, users.ErrUserNotFound) {
			// deleted between the two calls
			continue
		}
		if err != nil {
			h.Logger().Error("error reading user", "login", login, "error", err)
			writeError(w, http.StatusInternalServerError, "Error reading user")
			return
		}
		list = append(list, h.userInfo(u))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"users": list,
		"total": len(list),
	})
}

func (h *Handler) handleGetUser(w http.ResponseWriter, r *http.Request) {
	login := mux.Vars(r)["login"]
	u, err := h.users.Get(r.Context(), login)
	if errors.Is(err, users.ErrUserNotFound) {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		h.Logger().Error("error reading user", "login", login, "error", err)
		writeError(w, http.StatusInternalServerError, "Error reading user")
		return
	}
	writeJSON(w, http.StatusOK, h.userInfo(u))
}

func (h *Handler) userInfo(u *users.User) UserInfo {
	info := UserInfo{
		Login:           u.Login,
		HomeDir:         u.HomeDir,
		Enabled:         u.Enabled,
		WritePermission: u.WritePermission,
		Admin:           h.users.IsAdmin(u.Login),
		MaxIdleTime:     u.MaxIdleTime,
		MaxUploadRate:   u.MaxUploadRate,
		MaxDownloadRate: u.MaxDownloadRate,
		MaxLoginNumber:  u.MaxLoginNumber,
		MaxLoginPerIP:   u.MaxLoginPerIP,
	}
	for _, p := range u.IPs {
		info.IPs = append(info.IPs, p.String())
	}
	return info
}

// handleFiles lists a directory as JSON or sends a file of the logged in user.
func (h *Handler) handleFiles(w http.ResponseWriter, r *http.Request) {
	u := userFromContext(r.Context())
	fsys, err := h.fileSystem(u)
	if err != nil {
		h.Logger().Error("error opening home directory", "login", u.Login, "error", err)
		writeError(w, http.StatusInternalServerError, "Error opening home directory")
		return
	}

	name := path.Clean("/" + mux.Vars(r)["path"])
	entry, err := fsys.Stat(name)
	if err != nil {
		writeFSError(w, err)
		return
	}

	if entry.IsDir() {
		entries, err := fsys.Dir(name)
		if err != nil {
			writeFSError(w, err)
			return
		}
		list := make([]FileInfo, 0, len(entries))
		for _, e := range entries {
			list = append(list, FileInfo{
				Name:     e.Name(),
				Size:     e.Size(),
				IsDir:    e.IsDir(),
				Writable: e.Writable,
				ModTime:  e.ModTime().UTC(),
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"path":  name,
			"files": list,
		})
		return
	}

	if !entry.IsFile() {
		writeError(w, http.StatusNotFound, "Not a regular file")
		return
	}

	contentType := mime.TypeByExtension(path.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(entry.Size(), 10))
	w.Header().Set("Last-Modified", entry.ModTime().UTC().Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := fsys.ReadFile(name, w, 0); err != nil {
		h.Logger().Debug("error sending file", "path", name, "error", err)
	}
}

func writeFSError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		writeError(w, http.StatusNotFound, "File not found")
	case errors.Is(err, fs.ErrPermission):
		writeError(w, http.StatusForbidden, "Permission denied")
	default:
		writeError(w, http.StatusInternalServerError, "Error reading file")
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Default().Debug("error encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
