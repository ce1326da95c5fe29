package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"propman/internal/apperr"
	"propman/internal/auth"
)

// userResponse is the public view of a user. Password hash, 2FA secret and
// reset token never leave the server.
type userResponse struct {
	ID               int64     `json:"id"`
	FirstName        string    `json:"firstName"`
	LastName         string    `json:"lastName"`
	Email            string    `json:"email"`
	Phone            *string   `json:"phone"`
	Address          *string   `json:"address"`
	Role             auth.Role `json:"role"`
	Enabled          bool      `json:"enabled"`
	TwoFactorEnabled bool      `json:"twoFactorEnabled"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

func toUserResponse(u *auth.User) userResponse {
	return userResponse{
		ID:               u.ID,
		FirstName:        u.FirstName,
		LastName:         u.LastName,
		Email:            u.Email,
		Phone:            u.Phone,
		Address:          u.Address,
		Role:             u.Role,
		Enabled:          u.Enabled,
		TwoFactorEnabled: u.TwoFactorEnabled,
		CreatedAt:        u.CreatedAt,
		UpdatedAt:        u.UpdatedAt,
	}
}

func toUserResponses(users []auth.User) []userResponse {
	out := make([]userResponse, 0, len(users))
	for i := range users {
		out = append(out, toUserResponse(&users[i]))
	}
	return out
}

// callerID is the user id of the authenticated caller. authorize has
// already rejected requests without one on every route that uses it.
func callerID(r *http.Request) (int64, error) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok || !id.Authenticated {
		return 0, apperr.Unauthenticated("Full authentication is required to access this resource")
	}
	return id.UserID, nil
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.Accounts.List(r.Context())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponses(users))
}

func (s *Server) handleListUsersByRole(w http.ResponseWriter, r *http.Request) {
	users, err := s.Accounts.ListByRole(r.Context(), chi.URLParam(r, "role"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponses(users))
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	u, err := s.Accounts.Get(r.Context(), id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.updateProfile(w, r, id)
}

func (s *Server) handleChangeRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	role := r.URL.Query().Get("role")
	if role == "" {
		s.writeAppError(w, r, apperr.BadRequest("Required parameter 'role' is missing"))
		return
	}

	u, err := s.Accounts.ChangeRole(r.Context(), id, role)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, auth.EventRoleChanged, u.ID, map[string]any{"role": string(u.Role)})
	writeMessage(w, "User role updated to: "+string(u.Role))
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if err := s.Accounts.Delete(r.Context(), id); err != nil {
		s.writeAppError(w, r, err)
		return
	}

	if s.Audit != nil {
		if err := s.Audit.Purge(r.Context(), id); err != nil {
			s.Log.WithError(err).WithField("user_id", id).Warn("audit: purge failed")
		}
	}
	s.audit(r, auth.EventUserDeleted, 0, map[string]any{"userId": id})
	writeMessage(w, "User deleted successfully")
}

func (s *Server) handleUserAudit(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	var limit int64
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err = strconv.ParseInt(raw, 10, 64); err != nil || limit < 0 {
			s.writeAppError(w, r, apperr.BadRequest("Invalid limit: %s", raw))
			return
		}
	}

	events, err := s.Audit.Recent(r.Context(), id, limit)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleListClients(w http.ResponseWriter, r *http.Request) {
	users, err := s.Accounts.ListByRole(r.Context(), string(auth.RoleClient))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponses(users))
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	id, err := callerID(r)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	u, err := s.Accounts.Get(r.Context(), id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	id, err := callerID(r)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.updateProfile(w, r, id)
}

func (s *Server) updateProfile(w http.ResponseWriter, r *http.Request, id int64) {
	var req auth.ProfileInput
	if err := decodeJSON(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	u, err := s.Accounts.UpdateProfile(r.Context(), id, req)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

// handleChangePassword accepts currentPassword/newPassword as query
// parameters or as a JSON body.
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	id, err := callerID(r)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}

	q := r.URL.Query()
	req := auth.ChangePasswordInput{
		CurrentPassword: q.Get("currentPassword"),
		NewPassword:     q.Get("newPassword"),
	}
	if req.CurrentPassword == "" && req.NewPassword == "" {
		if err := decodeJSON(r, &req); err != nil {
			s.writeAppError(w, r, err)
			return
		}
	}

	if err := s.Accounts.ChangePassword(r.Context(), id, req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, auth.EventPasswordChanged, id, nil)
	writeMessage(w, "Password changed successfully")
}

type meResponse struct {
	userResponse
	Roles []string `json:"roles"`
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		s.writeAppError(w, r, apperr.Unauthenticated("Full authentication is required to access this resource"))
		return
	}
	u, err := s.Accounts.Get(r.Context(), id.UserID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{userResponse: toUserResponse(u), Roles: id.Authorities()})
}
