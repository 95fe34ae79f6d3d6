package api

import (
	"errors"
	"net/http"
	"strings"

	"mediavault/internal/auth"
	"mediavault/internal/models"
	"mediavault/internal/observability/metrics"
	"mediavault/internal/storage"
)

// Handler bundles the datastore and session manager behind the HTTP API.
type Handler struct {
	Store               storage.Repository
	Sessions            *auth.SessionManager
	SessionCookiePolicy SessionCookiePolicy
	RateLimiter         Pinger
}

func NewHandler(store storage.Repository, sessions *auth.SessionManager) *Handler {
	if sessions == nil {
		sessions = auth.NewSessionManager(auth.DefaultIdleTimeout)
	}
	return &Handler{Store: store, Sessions: sessions}
}

func (h *Handler) sessionManager() *auth.SessionManager {
	if h.Sessions == nil {
		h.Sessions = auth.NewSessionManager(auth.DefaultIdleTimeout)
	}
	return h.Sessions
}

const (
	loginMessageMalformed = "Authorization header missing or invalid"
	loginMessageInvalid   = "Invalid username or password"
)

// Login exchanges Basic credentials for a session cookie. Unknown usernames
// and wrong passwords produce byte-identical responses so the endpoint cannot
// be used to enumerate accounts.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}

	username, password, err := auth.ParseBasicCredentials(r)
	if err != nil {
		metrics.ObserveLogin("malformed_header")
		writeLoginFailure(w, loginMessageMalformed)
		return
	}

	account, err := h.Store.AuthenticateAccount(username, password)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidCredentials) {
			metrics.ObserveLogin("invalid_credentials")
			writeLoginFailure(w, loginMessageInvalid)
			return
		}
		metrics.ObserveLogin("error")
		writeInternalError(w)
		return
	}

	token, expires, err := h.sessionManager().Create(account.Username, account.Role)
	if err != nil {
		metrics.ObserveLogin("error")
		writeInternalError(w)
		return
	}

	metrics.ObserveLogin("success")
	metrics.SessionCreated()
	h.setSessionCookie(w, r, token, expires)
	writeJSON(w, http.StatusOK, map[string]string{
		"user":  account.Username,
		"role":  account.Role,
		"login": "authorized",
	})
}

// Home redirects authenticated clients to the landing page.
func (h *Handler) Home(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	if _, ok := h.requireAuthenticatedSession(w, r); !ok {
		return
	}
	http.Redirect(w, r, "/mainPage", http.StatusFound)
}

// roleServices lists the service endpoints advertised to each role on the
// landing page. Both roles currently see the same catalogue entry.
var roleServices = map[string]map[string]string{
	models.RoleAdmin:    {"Content Properties": "/contentProperties"},
	models.RoleNonAdmin: {"Content Properties": "/contentProperties"},
}

func (h *Handler) MainPage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	session, ok := h.requireOperation(w, r, OperationViewMainPage)
	if !ok {
		return
	}

	response := map[string]string{
		"user": session.Username,
		"role": session.Role,
	}
	for name, path := range roleServices[session.Role] {
		response[name] = path
	}
	writeJSON(w, http.StatusOK, response)
}

// Logout revokes the current session and clears the cookie.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.Header().Set("Allow", http.MethodDelete)
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	if _, ok := h.requireOperation(w, r, OperationLogout); !ok {
		return
	}

	if err := h.sessionManager().Revoke(ExtractToken(r)); err != nil {
		writeInternalError(w)
		return
	}
	metrics.SessionEnded("revoked")
	h.ClearSessionCookie(w, r)
	writeJSON(w, http.StatusOK, "LoggedOut")
}

// ContentProperties dispatches the collection endpoint: POST inserts a new
// record, PUT patches an existing one.
func (h *Handler) ContentProperties(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createContent(w, r)
	case http.MethodPut:
		h.updateContent(w, r)
	default:
		w.Header().Set("Allow", "POST, PUT")
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	}
}

func (h *Handler) createContent(w http.ResponseWriter, r *http.Request) {
	session, ok := h.requireOperation(w, r, OperationCreateContent)
	if !ok {
		metrics.ObserveContentOperation("create", "denied")
		return
	}

	var record models.ContentRecord
	if err := decodeJSON(r, &record); err != nil {
		metrics.ObserveContentOperation("create", "bad_request")
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	record.LastUpdatedBy = session.Username

	if _, err := h.Store.CreateContent(record); err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidRecord):
			metrics.ObserveContentOperation("create", "bad_request")
			writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, storage.ErrContentExists):
			metrics.ObserveContentOperation("create", "conflict")
			writeError(w, http.StatusBadRequest, err)
		default:
			metrics.ObserveContentOperation("create", "error")
			writeInternalError(w)
		}
		return
	}

	metrics.ObserveContentOperation("create", "ok")
	writeJSON(w, http.StatusOK, "Data Inserted Successfully")
}

type contentPatch struct {
	SubTitle   *string                  `json:"SubTitle"`
	AudioTrack *string                  `json:"AudioTrack"`
	Dash       *models.ManifestLocation `json:"Dash"`
	HLS        *models.ManifestLocation `json:"HLS"`
	DRM        *models.DRMInfo          `json:"DRM"`
	Quality    *[]string                `json:"Quality"`
}

type updateContentRequest struct {
	ContentID string       `json:"ContentID"`
	NewData   contentPatch `json:"new_data"`
}

func (h *Handler) updateContent(w http.ResponseWriter, r *http.Request) {
	session, ok := h.requireOperation(w, r, OperationUpdateContent)
	if !ok {
		metrics.ObserveContentOperation("update", "denied")
		return
	}

	var payload updateContentRequest
	if err := decodeJSONAllowUnknown(r, &payload); err != nil {
		metrics.ObserveContentOperation("update", "bad_request")
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	contentID := strings.TrimSpace(payload.ContentID)
	if contentID == "" {
		metrics.ObserveContentOperation("update", "bad_request")
		writeError(w, http.StatusBadRequest, errors.New("ContentID is required"))
		return
	}

	updated, err := h.Store.UpdateContent(contentID, storage.ContentUpdate{
		SubTitle:   payload.NewData.SubTitle,
		AudioTrack: payload.NewData.AudioTrack,
		Dash:       payload.NewData.Dash,
		HLS:        payload.NewData.HLS,
		DRM:        payload.NewData.DRM,
		Quality:    payload.NewData.Quality,
		UpdatedBy:  session.Username,
	})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrContentNotFound):
			metrics.ObserveContentOperation("update", "not_found")
			writeNotFound(w)
		case errors.Is(err, models.ErrInvalidRecord):
			metrics.ObserveContentOperation("update", "bad_request")
			writeError(w, http.StatusBadRequest, err)
		default:
			metrics.ObserveContentOperation("update", "error")
			writeInternalError(w)
		}
		return
	}

	metrics.ObserveContentOperation("update", "ok")
	writeJSON(w, http.StatusOK, updated)
}

// ContentPropertyByID serves GET /contentProperties/{id}. A missing record is
// reported as 400 with a "Not Found" body, which is the established wire
// contract for this endpoint.
func (h *Handler) ContentPropertyByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	if _, ok := h.requireOperation(w, r, OperationViewContent); !ok {
		metrics.ObserveContentOperation("get", "denied")
		return
	}

	contentID := strings.TrimPrefix(r.URL.Path, "/contentProperties/")
	if contentID == "" || strings.Contains(contentID, "/") {
		metrics.ObserveContentOperation("get", "bad_request")
		writeNotFound(w)
		return
	}

	record, err := h.Store.GetContent(contentID)
	if err != nil {
		if errors.Is(err, storage.ErrContentNotFound) {
			metrics.ObserveContentOperation("get", "not_found")
			writeNotFound(w)
			return
		}
		metrics.ObserveContentOperation("get", "error")
		writeInternalError(w)
		return
	}

	metrics.ObserveContentOperation("get", "ok")
	writeJSON(w, http.StatusOK, record)
}

// ExtractToken returns the session token carried by the request, preferring a
// Bearer header over the session cookie.
func ExtractToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		return cookie.Value
	}
	return ""
}
