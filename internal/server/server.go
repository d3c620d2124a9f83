// Package server is the chat backend: the REST message API, the
// per-conversation WebSocket channel, accounts and uploads.
package server

import (
	"database/sql"

	"github.com/gin-gonic/gin"

	"github.com/tradelane/marketchat/internal/auth"
	"github.com/tradelane/marketchat/internal/config"
)

type Server struct {
	cfg    config.Config
	db     *sql.DB
	driver string
	hub    *Hub
	engine *gin.Engine
}

func New(cfg config.Config, db *sql.DB, driver string) *Server {
	s := &Server{
		cfg:    cfg,
		db:     db,
		driver: driver,
		hub:    NewHub(db, driver),
	}
	go s.hub.Run()

	r := gin.Default()

	public := r.Group("/api")
	RegisterUsersPublic(public, db, driver, cfg)

	authed := r.Group("/api", auth.JWTMiddleware(cfg.JWTSecret))
	RegisterUsers(authed, db, driver)
	RegisterMessages(authed, s.hub)
	RegisterUpload(authed, cfg.UploadDir, cfg.UploadURL)

	ws := r.Group("")
	RegisterWS(ws, s.hub, cfg.JWTSecret)

	r.Static(cfg.UploadURL, cfg.UploadDir)

	s.engine = r
	return s
}

func (s *Server) Router() *gin.Engine { return s.engine }

func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) Run() error {
	return s.engine.Run(s.cfg.Addr)
}
