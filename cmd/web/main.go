// Web server exposing the onboarding step verbs over REST using Gin.
package main

import (
	"errors"
	"flag"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"payments-onboarding/internal/config"
	"payments-onboarding/internal/events"
	"payments-onboarding/internal/onboarding"
	"payments-onboarding/internal/remote"
	"payments-onboarding/internal/store"
)

var executor *onboarding.Executor

func main() {
	addr := flag.String("addr", ":8181", "Listen address")
	flag.Parse()

	cfg := config.Load()

	var (
		progress onboarding.ProgressStore
		locks    onboarding.LockManager
	)
	switch cfg.Store {
	case config.MemoryStore:
		mem := store.NewMemoryStore()
		progress, locks = mem, mem
		log.Println("Running in MOCK mode (in-memory store)")
	default:
		pg, err := store.Open(cfg.ConnectionString)
		if err != nil {
			log.Fatalf("opening store: %v", err)
		}
		defer pg.Close()
		progress, locks = pg, pg
		log.Println("Running in DATABASE mode")
	}

	client := remote.NewClient(cfg.RemoteAPIURL)
	account := remote.NewAccountState(client)

	var err error
	executor, err = onboarding.NewExecutor(onboarding.ExecutorConfig{
		Store:          progress,
		Locks:          locks,
		Account:        account,
		Connection:     remote.NewConnectionState(account),
		Remote:         client,
		Events:         events.NewLogRecorder("onboarding"),
		Integration:    config.EnvIntegration{},
		MinimumVersion: cfg.MinimumVersion,
	})
	if err != nil {
		log.Fatalf("building executor: %v", err)
	}

	// Use release mode in production
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())

	r.GET("/health", handleHealth)

	api := r.Group("/api/onboarding/:location")
	{
		api.GET("/steps", handleListSteps)
		api.GET("/steps/:step", handleCheck)
		api.POST("/steps/:step/start", handleStart)
		api.POST("/steps/:step/save", handleSave)
		api.POST("/steps/:step/finish", handleFinish)
		api.POST("/steps/:step/clean", handleClean)

		api.POST("/test_account/init", handleInitTestAccount)
		api.POST("/test_account/disable", handleDisableTestAccount)
		api.POST("/kyc/session", handleCreateKYCSession)
		api.POST("/kyc/session/finish", handleFinishKYCSession)
		api.POST("/reset", handleReset)
	}

	log.Printf("Starting Gin server on %s", *addr)
	log.Printf("  Onboarding API: %s", cfg.RemoteAPIURL)
	if err := r.Run(*addr); err != nil {
		log.Fatal(err)
	}
}

// corsMiddleware adds CORS headers for cross-origin requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}

func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// statusError is satisfied by the engine's typed errors.
type statusError interface {
	error
	HTTPStatus() int
}

// renderError maps the engine's typed errors onto transport statuses:
// 400 invalid argument, 403 not acceptable, 409 locked, 424 remote failed.
func renderError(c *gin.Context, err error) {
	var se statusError
	if errors.As(err, &se) {
		c.JSON(se.HTTPStatus(), gin.H{"error": se.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

type stepActionRequest struct {
	Source    string         `json:"source"`
	Overwrite bool           `json:"overwrite"`
	Data      map[string]any `json:"data"`
}

func bindOptional(c *gin.Context, req *stepActionRequest) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func stepParams(c *gin.Context) (onboarding.StepID, string) {
	return onboarding.StepID(c.Param("step")), c.Param("location")
}

func handleListSteps(c *gin.Context) {
	location := c.Param("location")
	statuses := make(map[onboarding.StepID]onboarding.Status, len(onboarding.Steps))
	for _, step := range onboarding.Steps {
		status, err := executor.Resolver().Resolve(c.Request.Context(), step, location)
		if err != nil {
			renderError(c, err)
			return
		}
		statuses[step] = status
	}
	c.JSON(http.StatusOK, gin.H{"location": location, "steps": statuses})
}

func handleCheck(c *gin.Context) {
	step, location := stepParams(c)
	result, err := executor.Check(c.Request.Context(), step, location)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func handleStart(c *gin.Context) {
	var req stepActionRequest
	if !bindOptional(c, &req) {
		return
	}
	step, location := stepParams(c)
	result, err := executor.Start(c.Request.Context(), step, location, req.Source, req.Overwrite)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func handleSave(c *gin.Context) {
	var req stepActionRequest
	if !bindOptional(c, &req) {
		return
	}
	step, location := stepParams(c)
	result, err := executor.Save(c.Request.Context(), step, location, req.Data)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func handleFinish(c *gin.Context) {
	var req stepActionRequest
	if !bindOptional(c, &req) {
		return
	}
	step, location := stepParams(c)
	result, err := executor.Finish(c.Request.Context(), step, location, req.Source, req.Overwrite)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func handleClean(c *gin.Context) {
	step, location := stepParams(c)
	result, err := executor.Clean(c.Request.Context(), step, location)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func handleInitTestAccount(c *gin.Context) {
	var req stepActionRequest
	if !bindOptional(c, &req) {
		return
	}
	result, err := executor.InitializeTestAccount(c.Request.Context(), c.Param("location"), req.Source)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func handleDisableTestAccount(c *gin.Context) {
	var req stepActionRequest
	if !bindOptional(c, &req) {
		return
	}
	result, err := executor.DisableTestAccount(c.Request.Context(), c.Param("location"), req.Source)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type kycCreateRequest struct {
	SelfAssessment map[string]any `json:"self_assessment"`
	Source         string         `json:"source"`
}

func handleCreateKYCSession(c *gin.Context) {
	var req kycCreateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
	}
	session, err := executor.CreateKYCSession(c.Request.Context(), c.Param("location"), req.SelfAssessment, req.Source)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

type kycFinishRequest struct {
	SessionID string         `json:"session_id"`
	Result    map[string]any `json:"result"`
}

func handleFinishKYCSession(c *gin.Context) {
	var req kycFinishRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
	}
	verdict, err := executor.FinishKYCSession(c.Request.Context(), c.Param("location"), req.SessionID, req.Result)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, verdict)
}

func handleReset(c *gin.Context) {
	var req stepActionRequest
	if !bindOptional(c, &req) {
		return
	}
	err := executor.Reset(c.Request.Context(), c.Param("location"), req.Source)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
