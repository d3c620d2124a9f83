package server

import (
	"database/sql"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/tradelane/marketchat/internal/auth"
	"github.com/tradelane/marketchat/internal/config"
	"github.com/tradelane/marketchat/internal/httpx"
)

type usersService struct {
	db        *sql.DB
	driver    string
	jwtSecret string
	jwtTTLMin int
}

type registerReq struct {
	Username  string `json:"username" binding:"required"`
	Password  string `json:"password" binding:"required,min=8"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type loginReq struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type userJSON struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Avatar    string `json:"avatar,omitempty"`
}

func RegisterUsersPublic(rg *gin.RouterGroup, db *sql.DB, driver string, cfg config.Config) {
	s := usersService{db: db, driver: driver, jwtSecret: cfg.JWTSecret, jwtTTLMin: cfg.JWTTTLMin}
	rg.POST("/auth/register", s.register)
	rg.POST("/auth/login", s.login)
}

func RegisterUsers(rg *gin.RouterGroup, db *sql.DB, driver string) {
	s := usersService{db: db, driver: driver}
	rg.GET("/users/me", s.me)
	rg.GET("/users/:id", s.get)
}

func (s usersService) register(c *gin.Context) {
	var req registerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			httpx.Err(c, http.StatusBadRequest, validationMessages(validationErrors))
			return
		}
		httpx.Err(c, http.StatusBadRequest, err.Error())
		return
	}

	var count int
	_ = s.db.QueryRow(rebind(s.driver, `SELECT COUNT(1) FROM users WHERE username=?`), req.Username).Scan(&count)
	if count > 0 {
		httpx.Err(c, http.StatusConflict, "username already exists")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "hash failed")
		return
	}

	var uid int64
	if s.driver == DriverPostgres {
		err = s.db.QueryRow(rebind(s.driver,
			`INSERT INTO users (username, password_hash, first_name, last_name) VALUES (?, ?, ?, ?) RETURNING id`),
			req.Username, hash, req.FirstName, req.LastName).Scan(&uid)
	} else {
		var res sql.Result
		res, err = s.db.Exec(`INSERT INTO users (username, password_hash, first_name, last_name) VALUES (?, ?, ?, ?)`,
			req.Username, hash, req.FirstName, req.LastName)
		if err == nil {
			uid, err = res.LastInsertId()
		}
	}
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "insert failed")
		return
	}

	token, err := auth.NewToken(s.jwtSecret, uid, s.jwtTTLMin)
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "token failed")
		return
	}
	httpx.Created(c, gin.H{"token": token, "user_id": uid})
}

func (s usersService) login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			httpx.Err(c, http.StatusBadRequest, validationMessages(validationErrors))
			return
		}
		httpx.Err(c, http.StatusBadRequest, err.Error())
		return
	}

	var uid int64
	var hash string
	err := s.db.QueryRow(rebind(s.driver, `SELECT id, password_hash FROM users WHERE username=?`), req.Username).
		Scan(&uid, &hash)
	if err != nil || !auth.CheckPassword(hash, req.Password) {
		httpx.Err(c, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := auth.NewToken(s.jwtSecret, uid, s.jwtTTLMin)
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "token failed")
		return
	}
	httpx.OK(c, gin.H{"token": token, "user_id": uid})
}

func (s usersService) me(c *gin.Context) {
	uid := auth.MustUserID(c)
	u, err := getUser(s.db, s.driver, uid)
	if err != nil {
		httpx.Err(c, http.StatusNotFound, "user not found")
		return
	}
	httpx.OK(c, userJSON{ID: u.ID, Username: u.Username, FirstName: u.FirstName, LastName: u.LastName, Avatar: u.Avatar})
}

func (s usersService) get(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		httpx.Err(c, http.StatusBadRequest, "bad user id")
		return
	}
	u, err := getUser(s.db, s.driver, id)
	if err != nil {
		httpx.Err(c, http.StatusNotFound, "user not found")
		return
	}
	httpx.OK(c, userJSON{ID: u.ID, Username: u.Username, FirstName: u.FirstName, LastName: u.LastName, Avatar: u.Avatar})
}
