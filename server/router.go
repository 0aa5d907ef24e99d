package server

import (
	"github.com/gin-gonic/gin"
)

// NewRouter wires the conversational form routes onto a gin engine.
func NewRouter(service Service) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())
	router.Use(cors())

	h := NewHandler(service)
	router.GET("/", h.Root)
	router.GET("/health", h.Health)

	api := router.Group("/api/conversational-form")
	api.POST("/start", h.Start)
	api.POST("/message", h.Message)
	api.GET("/sessions", h.Sessions)

	return router
}
