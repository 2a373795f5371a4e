package handlers

import (
	"net/http"
	"time"

	"github.com/tariel-x/mlmadmin/internal/models"

	"github.com/gin-gonic/gin"
)

type UpdateMeRequest struct {
	Name   string `json:"name" binding:"max=100"`
	Mobile string `json:"mobile" binding:"max=20"`
}

type referralResponse struct {
	MemberID    string          `json:"member_id"`
	Name        string          `json:"name"`
	Position    models.Position `json:"position"`
	Status      string          `json:"status"`
	JoiningDate string          `json:"joining_date"`
	ActivatedAt *time.Time      `json:"activated_at,omitempty"`
}

func (h *Handlers) Me(c *gin.Context) {
	identity := currentIdentity(c)
	member, err := h.members.Get(c.Request.Context(), h.selfMemberID(identity))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"member": member,
		"role":   identity.Role,
	})
}

func (h *Handlers) UpdateMe(c *gin.Context) {
	identity := currentIdentity(c)
	if identity.IsAdmin() {
		c.JSON(http.StatusForbidden, gin.H{"error": "admins have no member profile"})
		return
	}

	var req UpdateMeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	member, err := h.members.UpdateProfile(c.Request.Context(), identity.Subject, req.Name, req.Mobile)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"member": member})
}

// MyMember lists the caller's whole downline. Admins see every member.
func (h *Handlers) MyMember(c *gin.Context) {
	ctx := c.Request.Context()
	identity := currentIdentity(c)

	if identity.IsAdmin() {
		all, err := h.members.ListAll(ctx)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"members": all, "total": len(all)})
		return
	}

	team, err := h.resolver.Downline(ctx, identity.Subject)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": team, "total": len(team)})
}

func (h *Handlers) DirectReferrals(c *gin.Context) {
	memberID := h.selfMemberID(currentIdentity(c))

	children, err := h.resolver.DirectReferrals(c.Request.Context(), memberID)
	if err != nil {
		respondError(c, err)
		return
	}

	referrals := make([]referralResponse, 0, len(children))
	for i := range children {
		m := &children[i]
		referrals = append(referrals, referralResponse{
			MemberID:    m.MemberID,
			Name:        m.Name,
			Position:    m.Position,
			Status:      m.StatusLabel(),
			JoiningDate: m.DateOfJoining.Format("2006-01-02"),
			ActivatedAt: m.ActivatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"member_id": memberID,
		"members":   referrals,
		"total":     len(referrals),
	})
}

func (h *Handlers) AdminAddMember(c *gin.Context) {
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
	c.JSON(http.StatusCreated, gin.H{"member": member})
}

func (h *Handlers) Activate(c *gin.Context) {
	member, err := h.members.Activate(c.Request.Context(), c.Param("member_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"member": member})
}
