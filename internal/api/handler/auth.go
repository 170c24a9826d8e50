package handler

import (
	"errors"
	"net/http"

	"github.com/edvin/botplane/internal/api/request"
	"github.com/edvin/botplane/internal/api/response"
	"github.com/edvin/botplane/internal/auth"
)

type Authenticator interface {
	Login(password string) (string, error)
}

type Auth struct {
	auth Authenticator
}

func NewAuth(a Authenticator) *Auth {
	return &Auth{auth: a}
}

type loginResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token"`
}

// Login serves POST /auth/login.
func (h *Auth) Login(w http.ResponseWriter, r *http.Request) {
	var req request.Login
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	token, err := h.auth.Login(req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidPassword) {
			response.WriteError(w, http.StatusUnauthorized, err.Error())
			return
		}
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	response.WriteJSON(w, http.StatusOK, loginResponse{Success: true, Token: token})
}
