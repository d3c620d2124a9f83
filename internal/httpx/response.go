// Package httpx holds the JSON response helpers shared by the API handlers.
package httpx

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func OK(c *gin.Context, v any) {
	c.JSON(http.StatusOK, v)
}

// Created is the 201 variant used by the register and send endpoints.
func Created(c *gin.Context, v any) {
	c.JSON(http.StatusCreated, v)
}

// Err renders the error envelope the clients decode: {"error": msg}. msg may
// be a string or a structured validation payload.
func Err(c *gin.Context, code int, msg any) {
	c.JSON(code, gin.H{"error": msg})
}
