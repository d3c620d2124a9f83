package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/tradelane/marketchat/internal/auth"
	"github.com/tradelane/marketchat/internal/httpx"
)

type messagesService struct {
	hub *Hub
}

type sendReq struct {
	Recipient int64  `json:"recipient" binding:"required"`
	Content   string `json:"content" binding:"required"`
}

type editReq struct {
	Content string `json:"content" binding:"required"`
}

type lastMessageJSON struct {
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

type chatSummaryJSON struct {
	ID          int64            `json:"id"`
	Username    string           `json:"username"`
	FirstName   string           `json:"first_name"`
	LastName    string           `json:"last_name"`
	Avatar      string           `json:"avatar,omitempty"`
	LastMessage *lastMessageJSON `json:"last_message"`
	UnreadCount int              `json:"unread_count"`
}

func RegisterMessages(rg *gin.RouterGroup, hub *Hub) {
	s := messagesService{hub: hub}
	rg.GET("/messages/chat/:id", s.history)
	rg.POST("/messages/send", s.send)
	rg.PATCH("/messages/:id", s.edit)
	rg.DELETE("/messages/:id", s.remove)
	rg.GET("/messages/chats", s.chats)
	rg.GET("/messages/has-messages", s.hasMessages)
}

// history returns the full ordered message list with a partner and, as a side
// effect, marks the partner's messages to the caller as read. Polling clients
// rely on both halves of that.
func (s messagesService) history(c *gin.Context) {
	uid := auth.MustUserID(c)
	partnerID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		httpx.Err(c, http.StatusBadRequest, "bad partner id")
		return
	}

	list, err := listChat(s.hub.DB, s.hub.Driver, uid, partnerID)
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "db error")
		return
	}
	if err := markChatRead(s.hub.DB, s.hub.Driver, partnerID, uid); err != nil {
		httpx.Err(c, http.StatusInternalServerError, "db error")
		return
	}

	out := make([]messageJSON, 0, len(list))
	for _, m := range list {
		out = append(out, m.JSON())
	}
	httpx.OK(c, out)
}

func (s messagesService) send(c *gin.Context) {
	uid := auth.MustUserID(c)
	var req sendReq
	if err := c.ShouldBindJSON(&req); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			httpx.Err(c, http.StatusBadRequest, validationMessages(validationErrors))
			return
		}
		httpx.Err(c, http.StatusBadRequest, err.Error())
		return
	}
	if req.Recipient == uid {
		httpx.Err(c, http.StatusBadRequest, "cannot message yourself")
		return
	}

	m, err := s.hub.SaveAndBroadcastMessage(uid, req.Recipient, req.Content)
	if err != nil {
		httpx.Err(c, http.StatusBadRequest, "insert failed")
		return
	}
	httpx.Created(c, m.JSON())
}

func (s messagesService) edit(c *gin.Context) {
	uid := auth.MustUserID(c)
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		httpx.Err(c, http.StatusBadRequest, "bad message id")
		return
	}
	var req editReq
	if err := c.ShouldBindJSON(&req); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			httpx.Err(c, http.StatusBadRequest, validationMessages(validationErrors))
			return
		}
		httpx.Err(c, http.StatusBadRequest, err.Error())
		return
	}

	if !s.hub.EditAndBroadcast(uid, id, req.Content) {
		httpx.Err(c, http.StatusForbidden, "not your message")
		return
	}
	m, err := getMessage(s.hub.DB, s.hub.Driver, id)
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "db error")
		return
	}
	httpx.OK(c, m.JSON())
}

func (s messagesService) remove(c *gin.Context) {
	uid := auth.MustUserID(c)
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		httpx.Err(c, http.StatusBadRequest, "bad message id")
		return
	}

	// Author check first so deleting someone else's message stays 403 while
	// re-deleting your own is an idempotent 204.
	m, err := getMessage(s.hub.DB, s.hub.Driver, id)
	if err == nil && m.SenderID != uid {
		httpx.Err(c, http.StatusForbidden, "not your message")
		return
	}
	s.hub.DeleteAndBroadcast(uid, id)
	c.Status(http.StatusNoContent)
}

// chats is the conversation-list aggregator feed: partner profile, last
// message preview, unread count.
func (s messagesService) chats(c *gin.Context) {
	uid := auth.MustUserID(c)
	partners, err := chatPartners(s.hub.DB, s.hub.Driver, uid)
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "db error")
		return
	}

	out := make([]chatSummaryJSON, 0, len(partners))
	for _, pid := range partners {
		u, err := getUser(s.hub.DB, s.hub.Driver, pid)
		if err != nil {
			continue
		}
		row := chatSummaryJSON{
			ID:        u.ID,
			Username:  u.Username,
			FirstName: u.FirstName,
			LastName:  u.LastName,
			Avatar:    u.Avatar,
		}
		if last, ok, err := lastMessage(s.hub.DB, s.hub.Driver, uid, pid); err == nil && ok {
			row.LastMessage = &lastMessageJSON{
				Content:   last.Content,
				Timestamp: last.JSON().Timestamp,
			}
		}
		if n, err := unreadCount(s.hub.DB, s.hub.Driver, uid, pid); err == nil {
			row.UnreadCount = n
		}
		out = append(out, row)
	}
	httpx.OK(c, out)
}

func (s messagesService) hasMessages(c *gin.Context) {
	uid := auth.MustUserID(c)
	has, err := hasMessages(s.hub.DB, s.hub.Driver, uid)
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "db error")
		return
	}
	httpx.OK(c, gin.H{"has_messages": has})
}

type fieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

func validationMessages(errs validator.ValidationErrors) []fieldError {
	var out []fieldError
	for _, fe := range errs {
		msg := "invalid value"
		if fe.ActualTag() == "required" {
			msg = "This field is required."
		}
		out = append(out, fieldError{Field: fe.Field(), Tag: fe.ActualTag(), Message: msg})
	}
	return out
}
