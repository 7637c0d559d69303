package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"greendrake/offerdesk/internal/ident"
)

// Response is the envelope every JSON endpoint returns.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
	Message string      `json:"message"`
}

func respond(c *gin.Context, status int, data interface{}, message string) {
	c.JSON(status, Response{Success: true, Data: data, Message: message})
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, Response{Success: false, Data: nil, Message: message})
}

// Recover is a gin.RecoveryFunc that answers a panicking request with a 500
// envelope instead of an empty body.
func Recover(c *gin.Context, recovered interface{}) {
	log.Printf("Panic serving %s %s: %v", c.Request.Method, c.Request.URL.Path, recovered)
	c.AbortWithStatusJSON(http.StatusInternalServerError, Response{Success: false, Message: "Internal server error"})
}

// NoRoute answers requests that match no route.
func NoRoute(c *gin.Context) {
	respondError(c, http.StatusNotFound, "Route not found")
}

// NoMethod answers requests whose path exists under another method.
func NoMethod(c *gin.Context) {
	respondError(c, http.StatusMethodNotAllowed, "Method not allowed")
}

// paramID parses the :name path parameter.
func paramID(c *gin.Context, name string) (ident.ID, bool) {
	id, err := ident.Parse(c.Param(name))
	if err != nil {
		return ident.ID{}, false
	}
	return id, true
}
