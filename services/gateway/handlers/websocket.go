// Copyright (C) 2025 OpenClaw Authors (security@openclaw.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/openclaw/openclaw/pkg/extensions"
	"github.com/openclaw/openclaw/services/gateway/audit"
	"github.com/openclaw/openclaw/services/gateway/datatypes"
	"github.com/openclaw/openclaw/services/gateway/middleware"
	"github.com/openclaw/openclaw/services/gateway/store"
)

// wsRequest is one privileged method call on the socket.
type wsRequest struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// wsResponse answers a wsRequest by ID.
type wsResponse struct {
	Type    string   `json:"type"`
	ID      string   `json:"id,omitempty"`
	OK      bool     `json:"ok"`
	Payload any      `json:"payload,omitempty"`
	Error   *wsError `json:"error,omitempty"`
}

type wsError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Wire error codes.
const (
	codeInvalidRequest = "INVALID_REQUEST"
	codeNotFound       = "NOT_FOUND"
	codeConflict       = "CONFLICT"
	codeResourceLimit  = "RESOURCE_LIMIT"
	codeForbidden      = "FORBIDDEN"
	codeInternal       = "INTERNAL"
)

var upgrader = websocket.Upgrader{
	// The session cookie is SameSite=Strict, so cross-origin pages
	// cannot complete an authenticated handshake. Legacy token auth
	// carries its own secret.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

// wsConn is the per-connection context. The principal is stamped once
// during the handshake and never read from client frames.
type wsConn struct {
	conn       *websocket.Conn
	writeMu    sync.Mutex
	authUser   string
	authScopes []string
	sessionID  string // empty for legacy token connections
}

func (w *wsConn) send(v any) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.conn.WriteJSON(v)
}

func (w *wsConn) hasScope(scope string) bool {
	for _, s := range w.authScopes {
		if s == scope {
			return true
		}
	}
	return false
}

// =============================================================================
// Connection Registry
// =============================================================================

// ConnRegistry tracks open sockets by session ID so session revocation
// can force-close the matching connections.
type ConnRegistry struct {
	mu    sync.Mutex
	conns map[string][]*wsConn
}

func NewConnRegistry() *ConnRegistry {
	return &ConnRegistry{conns: make(map[string][]*wsConn)}
}

func (r *ConnRegistry) add(c *wsConn) {
	if c.sessionID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c.sessionID] = append(r.conns[c.sessionID], c)
}

func (r *ConnRegistry) remove(c *wsConn) {
	if c.sessionID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.conns[c.sessionID]
	for i, other := range list {
		if other == c {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(r.conns, c.sessionID)
	} else {
		r.conns[c.sessionID] = list
	}
}

// CloseSessions force-closes every socket bound to the given session
// IDs. Wired to SessionStore.SetOnRevoke.
func (r *ConnRegistry) CloseSessions(sessionIDs []string) {
	r.mu.Lock()
	var victims []*wsConn
	for _, id := range sessionIDs {
		victims = append(victims, r.conns[id]...)
		delete(r.conns, id)
	}
	r.mu.Unlock()

	for _, c := range victims {
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "session revoked")
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	}
}

// =============================================================================
// Handler
// =============================================================================

// WSDeps bundles the collaborators of the privileged socket.
type WSDeps struct {
	Credentials *store.CredentialsStore
	Sessions    *store.SessionStore
	Preferences *store.PreferencesStore
	Projects    *store.ProjectsStore
	Audit       *audit.Log
	Registry    *ConnRegistry
	Logger      *slog.Logger

	// LegacyAuth validates pre-shared tokens for automation clients
	// that cannot hold a cookie. Nil disables the fallback.
	LegacyAuth extensions.AuthProvider
}

func (d *WSDeps) log() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// HandleWS upgrades GET /ws. The handshake consumes the session
// cookie; without a live session it falls back to legacy token auth
// when configured, otherwise the socket closes with a policy
// violation.
func HandleWS(deps *WSDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		wc := &wsConn{}
		if sess, ok := middleware.GetAuthSession(c); ok {
			wc.authUser = sess.Username
			wc.authScopes = sess.Scopes
			wc.sessionID = sess.ID
		} else if info := deps.legacyIdentity(c); info != nil {
			wc.authUser = info.UserID
			wc.authScopes = scopesFromRoles(info.Roles)
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			deps.log().Error("websocket upgrade failed", "error", err)
			return
		}
		wc.conn = ws
		defer ws.Close()

		if wc.authUser == "" {
			msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication required")
			_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		}

		deps.Registry.add(wc)
		defer deps.Registry.remove(wc)
		deps.log().Info("websocket client connected", "user", wc.authUser)

		for {
			var req wsRequest
			if err := ws.ReadJSON(&req); err != nil {
				deps.log().Info("websocket client disconnected", "user", wc.authUser)
				return
			}

			// Cookie-authenticated sockets die with their session.
			if wc.sessionID != "" {
				if _, live := deps.Sessions.Get(wc.sessionID); !live {
					msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "session expired")
					wc.writeMu.Lock()
					_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
					wc.writeMu.Unlock()
					return
				}
			}

			resp := deps.dispatch(wc, &req, c.ClientIP())
			resp.Type = "res"
			resp.ID = req.ID
			if err := wc.send(resp); err != nil {
				return
			}
		}
	}
}

// legacyIdentity resolves the fallback token from the Authorization
// header or the token query parameter.
func (d *WSDeps) legacyIdentity(c *gin.Context) *extensions.AuthInfo {
	if d.LegacyAuth == nil {
		return nil
	}
	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if token == "" || token == c.GetHeader("Authorization") {
		token = c.Query("token")
	}
	if token == "" {
		return nil
	}
	info, err := d.LegacyAuth.Validate(c.Request.Context(), token)
	if err != nil {
		return nil
	}
	return info
}

func scopesFromRoles(roles []string) []string {
	for _, r := range roles {
		role := datatypes.Role(r)
		if role.Valid() {
			return datatypes.ScopesForRole(role)
		}
	}
	return nil
}

// =============================================================================
// Method Dispatch
// =============================================================================

func (d *WSDeps) dispatch(wc *wsConn, req *wsRequest, ip string) wsResponse {
	if wc.authUser == "" {
		return errResponse(codeInvalidRequest, "password authentication required")
	}
	if req.Type != "req" || req.Method == "" {
		return errResponse(codeInvalidRequest, "malformed request frame")
	}

	switch req.Method {
	case "user.sessions.list":
		return d.sessionsList(wc)
	case "user.sessions.revoke-all":
		return d.sessionsRevokeAll(wc, ip)
	case "user.preferences.get":
		return d.preferencesGet(wc)
	case "user.preferences.set":
		return d.preferencesSet(wc, req.Params)
	case "user.projects.list":
		return d.projectsList(wc)
	case "user.projects.create":
		return d.projectsCreate(wc, req.Params)
	case "user.projects.delete":
		return d.projectsDelete(wc, req.Params)
	case "user.projects.file.add":
		return d.projectsFileAdd(wc, req.Params)
	case "user.projects.file.remove":
		return d.projectsFileRemove(wc, req.Params)
	default:
		return errResponse(codeInvalidRequest, "unknown method: "+req.Method)
	}
}

func errResponse(code, message string) wsResponse {
	return wsResponse{OK: false, Error: &wsError{Code: code, Message: message}}
}

func okResponse(payload any) wsResponse {
	return wsResponse{OK: true, Payload: payload}
}

// errFromKind maps store errors onto wire codes.
func errFromKind(err error) wsResponse {
	var code string
	switch datatypes.KindOf(err) {
	case datatypes.KindInvalidInput:
		code = codeInvalidRequest
	case datatypes.KindNotFound:
		code = codeNotFound
	case datatypes.KindConflict:
		code = codeConflict
	case datatypes.KindResourceLimit:
		code = codeResourceLimit
	default:
		code = codeInternal
	}
	return errResponse(code, err.Error())
}

type wsSessionInfo struct {
	ID             string    `json:"id"`
	Current        bool      `json:"current"`
	CreatedAt      time.Time `json:"createdAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
}

func (d *WSDeps) sessionsList(wc *wsConn) wsResponse {
	var out []wsSessionInfo
	for _, s := range d.Sessions.Snapshot() {
		if !strings.EqualFold(s.Username, wc.authUser) {
			continue
		}
		out = append(out, wsSessionInfo{
			ID:             maskSessionID(s.ID),
			Current:        s.ID == wc.sessionID,
			CreatedAt:      s.CreatedAt,
			ExpiresAt:      s.ExpiresAt,
			LastActivityAt: s.LastActivityAt,
		})
	}
	return okResponse(gin.H{"sessions": out})
}

// maskSessionID keeps enough of the ID to correlate in the UI without
// handing out a usable cookie value.
func maskSessionID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8] + "…"
}

func (d *WSDeps) sessionsRevokeAll(wc *wsConn, ip string) wsResponse {
	// Step out of the registry first so the revoke hook does not close
	// this socket before the response goes out. The read loop notices
	// the dead session on the next frame and closes then.
	d.Registry.remove(wc)
	revoked := d.Sessions.DeleteByUser(wc.authUser)
	d.Audit.Append("auth.sessions.revoke_all", wc.authUser, ip, map[string]any{
		"revoked": revoked,
	})
	return okResponse(gin.H{"revoked": revoked})
}

func (d *WSDeps) preferencesGet(wc *wsConn) wsResponse {
	prefs, err := d.Preferences.Get(wc.authUser)
	if err != nil {
		return errFromKind(err)
	}
	return okResponse(prefs)
}

func (d *WSDeps) preferencesSet(wc *wsConn, params json.RawMessage) wsResponse {
	var patch map[string]json.RawMessage
	if err := json.Unmarshal(params, &patch); err != nil {
		return errResponse(codeInvalidRequest, "params must be a preferences object")
	}
	merged, err := d.Preferences.Merge(wc.authUser, patch)
	if err != nil {
		return errFromKind(err)
	}
	return okResponse(merged)
}

func (d *WSDeps) projectsList(wc *wsConn) wsResponse {
	projects, err := d.Projects.List(wc.authUser)
	if err != nil {
		return errFromKind(err)
	}
	return okResponse(gin.H{"projects": projects})
}

func (d *WSDeps) projectsCreate(wc *wsConn, params json.RawMessage) wsResponse {
	if !wc.hasScope("operator.write") && !wc.hasScope("operator.admin") {
		return errResponse(codeForbidden, "write scope required")
	}
	var p struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Color string `json:"color,omitempty"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return errResponse(codeInvalidRequest, "invalid project params")
	}
	proj, err := d.Projects.Create(wc.authUser, datatypes.Project{ID: p.ID, Name: p.Name, Color: p.Color})
	if err != nil {
		return errFromKind(err)
	}
	return okResponse(proj)
}

func (d *WSDeps) projectsDelete(wc *wsConn, params json.RawMessage) wsResponse {
	if !wc.hasScope("operator.write") && !wc.hasScope("operator.admin") {
		return errResponse(codeForbidden, "write scope required")
	}
	var p struct {
		ProjectID string `json:"projectId"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.ProjectID == "" {
		return errResponse(codeInvalidRequest, "projectId required")
	}
	if err := d.Projects.Delete(wc.authUser, p.ProjectID); err != nil {
		return errFromKind(err)
	}
	return okResponse(gin.H{"deleted": p.ProjectID})
}

func (d *WSDeps) projectsFileAdd(wc *wsConn, params json.RawMessage) wsResponse {
	if !wc.hasScope("operator.write") && !wc.hasScope("operator.admin") {
		return errResponse(codeForbidden, "write scope required")
	}
	var p struct {
		ProjectID  string `json:"projectId"`
		FileName   string `json:"fileName"`
		MimeType   string `json:"mimeType,omitempty"`
		SessionKey string `json:"sessionKey,omitempty"`
		DataBase64 string `json:"dataBase64"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return errResponse(codeInvalidRequest, "invalid file params")
	}
	file, err := d.Projects.AddFile(wc.authUser, p.ProjectID, p.FileName, p.MimeType, p.SessionKey, p.DataBase64)
	if err != nil {
		return errFromKind(err)
	}
	return okResponse(file)
}

func (d *WSDeps) projectsFileRemove(wc *wsConn, params json.RawMessage) wsResponse {
	if !wc.hasScope("operator.write") && !wc.hasScope("operator.admin") {
		return errResponse(codeForbidden, "write scope required")
	}
	var p struct {
		ProjectID string `json:"projectId"`
		FileID    string `json:"fileId"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.ProjectID == "" || p.FileID == "" {
		return errResponse(codeInvalidRequest, "projectId and fileId required")
	}
	if err := d.Projects.RemoveFile(wc.authUser, p.ProjectID, p.FileID); err != nil {
		return errFromKind(err)
	}
	return okResponse(gin.H{"removed": p.FileID})
}
