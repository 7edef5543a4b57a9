package ftp

import (
	"sort"
	"sync"

	"github.com/telebroad/ftpserver/filesystem"
	"github.com/telebroad/ftpserver/users"
)

// LoginLimits bounds the logged in sessions, 0 is unlimited.
type LoginLimits struct {
	Total   int
	PerUser int
	PerIP   int
}

// SessionManager manages all active sessions.
type SessionManager struct {
	sessions map[string]*Session // Map of active sessions
	lock     sync.RWMutex        // Protects the sessions map
}

func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*Session),
	}
}

// Add adds a new session for the client.
func (manager *SessionManager) Add(session *Session) {
	manager.lock.Lock()
	defer manager.lock.Unlock()
	manager.sessions[session.ID] = session
}

// TryAdd adds session unless limit sessions are already connected, 0 is unlimited.
func (manager *SessionManager) TryAdd(session *Session, limit int) bool {
	manager.lock.Lock()
	defer manager.lock.Unlock()
	if limit > 0 && len(manager.sessions) >= limit {
		return false
	}
	manager.sessions[session.ID] = session
	return true
}

// Get retrieves a session by its ID.
func (manager *SessionManager) Get(id string) (*Session, bool) {
	manager.lock.RLock()
	defer manager.lock.RUnlock()
	session, exists := manager.sessions[id]
	return session, exists
}

// Remove removes a session by its ID.
func (manager *SessionManager) Remove(id string) {
	manager.lock.Lock()
	defer manager.lock.Unlock()
	delete(manager.sessions, id)
}

// Len returns the number of connected sessions.
func (manager *SessionManager) Len() int {
	manager.lock.RLock()
	defer manager.lock.RUnlock()
	return len(manager.sessions)
}

// LoginCounts returns the number of logged in sessions in total, of login,
// and of login connected from ip.
func (manager *SessionManager) LoginCounts(login, ip string) (total, user, userFromIP int) {
	manager.lock.RLock()
	defer manager.lock.RUnlock()
	return manager.loginCounts(login, ip)
}

// TryLogin logs s in as u unless limits are reached. The counts are checked
// and the session logged in under the same lock, so concurrent logins can not
// pass a limit together. It returns the counts seen before the login.
func (manager *SessionManager) TryLogin(s *Session, u *users.User, fsys filesystem.FS, limits LoginLimits) (total, user, userFromIP int, ok bool) {
	manager.lock.Lock()
	defer manager.lock.Unlock()
	total, user, userFromIP = manager.loginCounts(u.Login, s.RemoteIP())
	if (limits.Total > 0 && total >= limits.Total) ||
		(limits.PerUser > 0 && user >= limits.PerUser) ||
		(limits.PerIP > 0 && userFromIP >= limits.PerIP) {
		return total, user, userFromIP, false
	}
	s.login(u, fsys)
	return total, user, userFromIP, true
}

func (manager *SessionManager) loginCounts(login, ip string) (total, user, userFromIP int) {
	for _, s := range manager.sessions {
		info := s.Info()
		if info.Login == "" {
			continue
		}
		total++
		if info.Login != login {
			continue
		}
		user++
		if s.RemoteIP() == ip {
			userFromIP++
		}
	}
	return total, user, userFromIP
}

// Snapshot returns the state of every session, oldest connection first.
func (manager *SessionManager) Snapshot() []SessionInfo {
	manager.lock.RLock()
	infos := make([]SessionInfo, 0, len(manager.sessions))
	for _, s := range manager.sessions {
		infos = append(infos, s.Info())
	}
	manager.lock.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].ConnectedAt.Equal(infos[j].ConnectedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].ConnectedAt.Before(infos[j].ConnectedAt)
	})
	return infos
}
