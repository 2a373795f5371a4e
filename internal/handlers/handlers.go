package handlers

import (
	"net/http"
	"time"

	"github.com/tariel-x/mlmadmin/internal/auth"
	"github.com/tariel-x/mlmadmin/internal/config"
	"github.com/tariel-x/mlmadmin/internal/genealogy"
	"github.com/tariel-x/mlmadmin/internal/members"
	"github.com/tariel-x/mlmadmin/internal/notify"

	"github.com/gorilla/websocket"
	"gorm.io/gorm"
)

type Handlers struct {
	config     *config.Config
	db         *gorm.DB
	members    *members.Service
	resolver   *genealogy.Resolver
	tokens     *auth.Issuer
	hub        *notify.Hub
	wsUpgrader websocket.Upgrader
	nowFn      func() time.Time
}

func New(
	cfg *config.Config,
	db *gorm.DB,
	memberService *members.Service,
	resolver *genealogy.Resolver,
	tokens *auth.Issuer,
	hub *notify.Hub,
) *Handlers {
	return &Handlers{
		config:   cfg,
		db:       db,
		members:  memberService,
		resolver: resolver,
		tokens:   tokens,
		hub:      hub,
		wsUpgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		nowFn: time.Now,
	}
}
