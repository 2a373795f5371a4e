package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

type dashboardCounts struct {
	Sponsor  int `json:"sponsor"`
	Downline int `json:"downline"`
	Left     int `json:"left"`
	Right    int `json:"right"`
}

func (h *Handlers) MemberDashboard(c *gin.Context) {
	ctx := c.Request.Context()
	memberID := h.selfMemberID(currentIdentity(c))

	member, err := h.members.Get(ctx, memberID)
	if err != nil {
		respondError(c, err)
		return
	}

	direct, err := h.resolver.DirectReferrals(ctx, memberID)
	if err != nil {
		respondError(c, err)
		return
	}
	downline, err := h.resolver.CountDownline(ctx, memberID)
	if err != nil {
		respondError(c, err)
		return
	}
	left, right, err := h.resolver.LegCounts(ctx, memberID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"member": member,
		"status": member.StatusLabel(),
		"counts": dashboardCounts{
			Sponsor:  len(direct),
			Downline: downline,
			Left:     left,
			Right:    right,
		},
	})
}

func (h *Handlers) LevelWiseTeam(c *gin.Context) {
	ctx := c.Request.Context()
	memberID := h.selfMemberID(currentIdentity(c))

	maxLevel, ok := queryInt(c, "max_level", h.config.TeamMaxLevel)
	if !ok {
		return
	}

	current, err := h.members.Get(ctx, memberID)
	if err != nil {
		respondError(c, err)
		return
	}

	team, err := h.resolver.LevelWiseTeam(ctx, memberID, maxLevel)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"currentMember": current,
		"teamMembers":   team,
		"maxLevel":      maxLevel,
	})
}

// TeamStructure replies with the root node of the binary tree under root_id.
// Members may only look at themselves or their own downline.
func (h *Handlers) TeamStructure(c *gin.Context) {
	ctx := c.Request.Context()
	identity := currentIdentity(c)
	self := h.selfMemberID(identity)

	rootID := c.DefaultQuery("root_id", self)
	levels, ok := queryInt(c, "levels", h.config.TreeLevels)
	if !ok {
		return
	}
	if levels < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "levels must not be negative"})
		return
	}
	if h.config.MaxTreeLevels > 0 && levels > h.config.MaxTreeLevels {
		levels = h.config.MaxTreeLevels
	}

	if !identity.IsAdmin() && rootID != self {
		inside, err := h.resolver.InDownline(ctx, self, rootID)
		if err != nil {
			respondError(c, err)
			return
		}
		if !inside {
			c.JSON(http.StatusForbidden, gin.H{"error": "member is outside your downline"})
			return
		}
	}

	tree, err := h.resolver.BinaryTree(ctx, rootID, levels)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tree)
}

// queryInt reads an optional integer query parameter. On a malformed value
// it replies 400 and returns false.
func queryInt(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be an integer"})
		return 0, false
	}
	return v, true
}
