package gateway

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/wabridge/wabridge/internal/cron"
)

const apiPrefix = "/api"

func (s *Server) apiAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" {
			token = c.Query("token")
		}
		if !s.authenticate(token) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token", "code": CodeAuthFailed})
			return
		}
		c.Next()
	}
}

func (s *Server) registerAPIRoutes(engine *gin.Engine) {
	api := engine.Group(apiPrefix, s.apiAuthMiddleware())
	api.GET("/state", s.ginAPIState)
	api.POST("/session/restart", s.ginAPISessionRestart)
	api.POST("/messages", s.ginAPISend)
	api.GET("/messages/current", s.ginAPICurrentMessages)
	api.GET("/conversations", s.ginAPIConversations)
	api.POST("/conversations/select", s.ginAPISelect)
	api.GET("/conversations/:key/messages", s.ginAPIConversationMessages)
	api.GET("/connections", s.ginAPIConnections)
	api.GET("/jobs", s.ginAPIJobs)
	api.POST("/jobs/:name/run", s.ginAPIRunJob)
}

func abortWithError(c *gin.Context, err error) {
	status, code := errorStatus(err)
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error(), "code": code})
}

func (s *Server) ginAPIState(c *gin.Context) {
	c.JSON(http.StatusOK, s.Session.Snapshot())
}

func (s *Server) ginAPISessionRestart(c *gin.Context) {
	s.Session.Restart()
	c.JSON(http.StatusAccepted, gin.H{"status": "restarting"})
}

func (s *Server) ginAPISend(c *gin.Context) {
	var body SendParams
	if err := c.ShouldBindJSON(&body); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid body", "code": CodeInvalidParams})
		return
	}
	res, err := s.sendMessage(c.Request.Context(), body)
	if err != nil {
		status, code := errorStatus(err)
		c.AbortWithStatusJSON(status, gin.H{"error": err.Error(), "code": code, "result": res})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) ginAPIConversations(c *gin.Context) {
	c.JSON(http.StatusOK, s.listConversations(c.Query("q")))
}

func (s *Server) ginAPISelect(c *gin.Context) {
	var body SelectParams
	if err := c.ShouldBindJSON(&body); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid body", "code": CodeInvalidParams})
		return
	}
	c.JSON(http.StatusOK, s.selectConversation(body.Key))
}

func (s *Server) ginAPIConversationMessages(c *gin.Context) {
	result, err := s.conversationMessages(c.Param("key"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) ginAPICurrentMessages(c *gin.Context) {
	c.JSON(http.StatusOK, s.currentMessages())
}

func (s *Server) ginAPIConnections(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"connections": s.Conns.List()})
}

func (s *Server) ginAPIJobs(c *gin.Context) {
	if s.Jobs == nil {
		c.JSON(http.StatusOK, gin.H{"jobs": []cron.Job{}, "runs": []cron.RunRecord{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": s.Jobs.List(), "runs": s.Jobs.Runs()})
}

func (s *Server) ginAPIRunJob(c *gin.Context) {
	name := c.Param("name")
	if s.Jobs == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no scheduler", "code": CodeNotFound})
		return
	}
	if err := s.Jobs.RunNow(name); err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error(), "code": CodeNotFound})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "started", "job": name})
}
