package handlers

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"greendrake/offerdesk/internal/auth"
	"greendrake/offerdesk/internal/models"
	"greendrake/offerdesk/internal/services"
)

// UserHandler handles registration and login.
type UserHandler struct {
	userService services.IUserService
	jwtSecret   string
	jwtTTL      time.Duration
}

func NewUserHandler(userService services.IUserService, jwtSecret string, jwtTTL time.Duration) *UserHandler {
	return &UserHandler{userService: userService, jwtSecret: jwtSecret, jwtTTL: jwtTTL}
}

type registerRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
	City     string `json:"city"`
	State    string `json:"state"`
	Area     string `json:"area"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type authResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// Register handles POST /api/user/register
func (h *UserHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid registration data: "+err.Error())
		return
	}

	user, err := h.userService.Register(c.Request.Context(), services.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Locality: models.Locality{City: req.City, State: req.State, Area: req.Area},
	})
	if err != nil {
		if errors.Is(err, services.ErrEmailExists) {
			respondError(c, http.StatusConflict, err.Error())
			return
		}
		log.Printf("Register %s failed: %v", req.Email, err)
		respondError(c, http.StatusInternalServerError, "Failed to register user")
		return
	}

	token, err := auth.GenerateJWT(user, h.jwtSecret, h.jwtTTL)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Failed to issue token")
		return
	}
	respond(c, http.StatusCreated, authResponse{Token: token, User: user}, "User registered")
}

// Login handles POST /api/user/login
func (h *UserHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Email and password are required")
		return
	}

	user, err := h.userService.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, services.ErrInvalidCredentials) {
			respondError(c, http.StatusUnauthorized, err.Error())
			return
		}
		log.Printf("Login %s failed: %v", req.Email, err)
		respondError(c, http.StatusInternalServerError, "Failed to log in")
		return
	}

	token, err := auth.GenerateJWT(user, h.jwtSecret, h.jwtTTL)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Failed to issue token")
		return
	}
	respond(c, http.StatusOK, authResponse{Token: token, User: user}, "Login successful")
}
