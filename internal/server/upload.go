package server

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tradelane/marketchat/internal/httpx"
)

type uploadService struct {
	dir     string
	baseURL string
}

// RegisterUpload mounts POST /upload. The response URL is what clients embed
// in message content behind the file prefix.
func RegisterUpload(rg *gin.RouterGroup, dir, baseURL string) {
	s := uploadService{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}
	rg.POST("/upload", s.upload)
}

func (s uploadService) upload(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		httpx.Err(c, http.StatusBadRequest, "missing file")
		return
	}

	// Client-supplied names are untrusted; keep only the extension.
	ext := filepath.Ext(fh.Filename)
	name := uuid.NewString() + ext
	if err := c.SaveUploadedFile(fh, filepath.Join(s.dir, name)); err != nil {
		httpx.Err(c, http.StatusInternalServerError, "save failed")
		return
	}

	httpx.OK(c, gin.H{"url": s.baseURL + "/" + name})
}
