package handlers

import (
	"net/http"
	"strings"

	"github.com/tariel-x/mlmadmin/internal/auth"
	"github.com/tariel-x/mlmadmin/internal/members"
	"github.com/tariel-x/mlmadmin/internal/models"

	"github.com/gin-gonic/gin"
)

const identityKey = "identity"

type RegisterRequest struct {
	Name        string `json:"name" binding:"required,max=100"`
	Email       string `json:"email" binding:"omitempty,email"`
	Mobile      string `json:"mobile" binding:"max=20"`
	Password    string `json:"password" binding:"required"`
	SponsorCode string `json:"sponsor_code" binding:"required"`
	Position    string `json:"position" binding:"required"`
}

func (r RegisterRequest) input() members.RegisterInput {
	return members.RegisterInput{
		Name:        r.Name,
		Email:       r.Email,
		Mobile:      r.Mobile,
		Password:    r.Password,
		SponsorCode: r.SponsorCode,
		Position:    models.Position(r.Position),
	}
}

type LoginRequest struct {
	MemberID string `json:"member_id" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type AdminLoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Token  string         `json:"token"`
	Member *models.Member `json:"member,omitempty"`
}

func (h *Handlers) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	member, err := h.members.Register(c.Request.Context(), req.input())
	if err != nil {
		respondError(c, err)
		return
	}

	token, err := h.tokens.Issue(auth.Identity{Subject: member.MemberID, Role: auth.RoleMember})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, LoginResponse{Token: token, Member: member})
}

func (h *Handlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	member, err := h.members.Authenticate(c.Request.Context(), req.MemberID, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}

	token, err := h.tokens.Issue(auth.Identity{Subject: member.MemberID, Role: auth.RoleMember})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, LoginResponse{Token: token, Member: member})
}

func (h *Handlers) AdminLogin(c *gin.Context) {
	var req AdminLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	admin, err := h.members.AuthenticateAdmin(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}

	token, err := h.tokens.Issue(auth.Identity{Subject: admin.Username, Role: auth.RoleAdmin})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":          token,
		"username":       admin.Username,
		"root_member_id": h.config.RootMemberID,
	})
}

func (h *Handlers) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := c.GetHeader("Authorization")
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}
		tokenString = strings.TrimPrefix(tokenString, "Bearer ")

		identity, err := h.tokens.Parse(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		c.Set(identityKey, identity)
		c.Next()
	}
}

func (h *Handlers) AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !currentIdentity(c).IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin access required"})
			return
		}
		c.Next()
	}
}

func currentIdentity(c *gin.Context) auth.Identity {
	v, ok := c.Get(identityKey)
	if !ok {
		return auth.Identity{}
	}
	identity, _ := v.(auth.Identity)
	return identity
}

// selfMemberID is the genealogy root for the caller. Admins act on behalf
// of the administrative root member.
func (h *Handlers) selfMemberID(identity auth.Identity) string {
	if identity.IsAdmin() {
		return h.config.RootMemberID
	}
	return identity.Subject
}
