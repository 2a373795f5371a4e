package handlers

import "github.com/gin-gonic/gin"

// Routes mounts the API under r.
func (h *Handlers) Routes(r gin.IRouter) {
	api := r.Group("/api")

	api.GET("/health", h.Health)
	api.POST("/register", h.Register)
	api.POST("/login", h.Login)
	api.POST("/admin/login", h.AdminLogin)
	api.GET("/ws", h.HandleWebSocket)

	protected := api.Group("")
	protected.Use(h.AuthMiddleware())
	{
		protected.GET("/me", h.Me)
		protected.PUT("/me", h.UpdateMe)
		protected.GET("/member-dashboard", h.MemberDashboard)
		protected.GET("/level-wise-team", h.LevelWiseTeam)
		protected.GET("/team-structure", h.TeamStructure)
		protected.GET("/my-member", h.MyMember)
		protected.GET("/direct-referrals", h.DirectReferrals)
	}

	admin := protected.Group("/admin")
	admin.Use(h.AdminOnly())
	{
		admin.POST("/members", h.AdminAddMember)
		admin.POST("/members/:member_id/activate", h.Activate)
	}
}
