// Package botapi implements the bot supervisor's HTTP control plane
// (spec §6.3): list/get/create/update/delete bots, start/stop/restart/
// status, positions/balance proxy reads, debate replay, and log tail.
package botapi

import (
	"log"
	"net/http"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"langtrader-core/internal/api"
	"langtrader-core/internal/bot"
	"langtrader-core/internal/events"
	"langtrader-core/internal/pipeline"
	"langtrader-core/pkg/checkpoint"
	"langtrader-core/pkg/db"
)

// Server wires the bot supervisor into a gin router, reusing the
// teacher's middleware stack (internal/api) rather than duplicating it.
type Server struct {
	Router      *gin.Engine
	Supervisor  *bot.Supervisor
	Bots        *bot.Store
	Workflows   *pipeline.Store
	Status      *bot.StatusPublisher
	Checkpoints *checkpoint.Store
	Bus         *events.Bus
	DB          *db.Database
	JWTSecret   string
}

// NewServer builds the control-plane server. The checkpoint store is
// attached separately with WithCheckpoints; without it get_debate
// returns null.
func NewServer(supervisor *bot.Supervisor, botStore *bot.Store, workflowStore *pipeline.Store, status *bot.StatusPublisher, bus *events.Bus, jwtSecret string) *Server {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(api.RequestIDMiddleware())
	r.Use(api.RequestLogger())
	r.Use(api.RateLimitMiddleware())
	r.Use(api.TimeoutMiddleware(30 * time.Second))
	r.Use(api.CORSMiddleware())

	s := &Server{
		Router: r, Supervisor: supervisor, Bots: botStore,
		Workflows: workflowStore, Status: status, Bus: bus, JWTSecret: jwtSecret,
	}
	s.routes()
	return s
}

// WithCheckpoints attaches the checkpoint store used by get_debate.
func (s *Server) WithCheckpoints(c *checkpoint.Store) *Server {
	s.Checkpoints = c
	return s
}

// WithDB attaches the user store backing /api/auth/register and /api/auth/login.
func (s *Server) WithDB(database *db.Database) *Server {
	s.DB = database
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	s.Router.POST("/api/auth/register", s.registerUser)
	s.Router.POST("/api/auth/login", s.loginUser)

	grp := s.Router.Group("/api/bots")
	grp.Use(api.AuthMiddleware(s.JWTSecret))
	{
		grp.GET("", s.listBots)
		grp.POST("", s.createBot)
		grp.GET("/:id", s.getBot)
		grp.PUT("/:id", s.updateBot)
		grp.DELETE("/:id", s.deleteBot)

		grp.POST("/:id/start", s.startBot)
		grp.POST("/:id/stop", s.stopBot)
		grp.POST("/:id/restart", s.restartBot)
		grp.GET("/:id/status", s.statusBot)

		grp.GET("/:id/positions", s.getPositions)
		grp.GET("/:id/balance", s.getBalance)
		grp.GET("/:id/debate", s.getDebate)
		grp.GET("/:id/logs", s.getLogs)
	}
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}

func (s *Server) listBots(c *gin.Context) {
	ids, err := s.Bots.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	bots := make([]*bot.Config, 0, len(ids))
	for _, id := range ids {
		cfg, err := s.Bots.Load(id)
		if err != nil {
			continue
		}
		bots = append(bots, cfg)
	}
	c.JSON(http.StatusOK, gin.H{"bots": bots})
}

func (s *Server) getBot(c *gin.Context) {
	cfg, err := s.Bots.Load(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "bot not found"})
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (s *Server) createBot(c *gin.Context) {
	var cfg bot.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cfg.IsActive = true
	if err := s.Bots.Save(&cfg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, cfg)
}

// updateBot is a full-replace upsert, taking effect on the bot's next
// cycle boundary (spec §3's BotConfig mutability contract) — the running
// worker re-reads its config each cycle rather than being pushed to.
func (s *Server) updateBot(c *gin.Context) {
	id := c.Param("id")
	var cfg bot.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cfg.ID = id
	if err := s.Bots.Save(&cfg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (s *Server) deleteBot(c *gin.Context) {
	id := c.Param("id")
	_ = s.Supervisor.Stop(id)
	if err := s.Bots.Delete(id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

func (s *Server) startBot(c *gin.Context) {
	if err := s.Supervisor.Start(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"started": c.Param("id")})
}

func (s *Server) stopBot(c *gin.Context) {
	if err := s.Supervisor.Stop(c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stopped": c.Param("id")})
}

func (s *Server) restartBot(c *gin.Context) {
	if err := s.Supervisor.Restart(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"restarted": c.Param("id")})
}

func (s *Server) statusBot(c *gin.Context) {
	id := c.Param("id")
	if s.Status != nil {
		if st, err := s.Status.Read(id); err == nil {
			c.JSON(http.StatusOK, st)
			return
		}
	}
	st, err := s.Supervisor.Status(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, st)
}

// getPositions proxies a live exchange read. A zero mark price falls
// back to the latest trade price via FetchTicker, unconditionally and
// logged every time it triggers (spec §9 design note 2).
func (s *Server) getPositions(c *gin.Context) {
	id := c.Param("id")
	gw, ok := s.Supervisor.Gateway(id)
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "bot not running"})
		return
	}
	positions, err := gw.FetchPositions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	for i, p := range positions {
		if p.MarkPrice != 0 {
			continue
		}
		ticker, err := gw.FetchTicker(c.Request.Context(), p.Symbol)
		if err != nil {
			log.Printf("botapi: mark price fallback failed for bot %s symbol %s: %v", id, p.Symbol, err)
			continue
		}
		log.Printf("botapi: bot %s symbol %s mark price was 0, falling back to last trade price %.8f", id, p.Symbol, ticker.Last)
		positions[i].MarkPrice = ticker.Last
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions})
}

func (s *Server) getBalance(c *gin.Context) {
	id := c.Param("id")
	gw, ok := s.Supervisor.Gateway(id)
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "bot not running"})
		return
	}
	balances, err := gw.FetchBalance(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": balances})
}

// getDebate returns the most recent cycle's debate artifacts, or null
// when none have been recorded yet (spec §6.3 get_debate). The debate
// node's checkpoint is keyed by its workflow-graph node id, which need
// not be named "debate", so the node running the debate plugin is
// resolved from the bot's workflow definition rather than assumed.
func (s *Server) getDebate(c *gin.Context) {
	id := c.Param("id")
	if s.Checkpoints == nil {
		c.JSON(http.StatusOK, nil)
		return
	}
	cfg, err := s.Bots.Load(id)
	if err != nil {
		c.JSON(http.StatusOK, nil)
		return
	}
	wf, err := s.Workflows.Load(cfg.WorkflowID)
	if err != nil {
		c.JSON(http.StatusOK, nil)
		return
	}
	var nodeID string
	for _, n := range wf.Nodes {
		if n.PluginName == "debate" {
			nodeID = n.ID
			break
		}
	}
	if nodeID == "" {
		c.JSON(http.StatusOK, nil)
		return
	}

	threadID := checkpoint.ThreadID(id)
	cycleID, err := s.Checkpoints.LatestCycle(threadID)
	if err != nil {
		c.JSON(http.StatusOK, nil)
		return
	}
	var state pipeline.CycleState
	if err := s.Checkpoints.Load(threadID, cycleID, nodeID, &state); err != nil {
		c.JSON(http.StatusOK, nil)
		return
	}
	artifacts := map[string]*pipeline.DebateArtifacts{}
	for symbol, run := range state.Symbols {
		if run.Debate != nil {
			artifacts[symbol] = run.Debate
		}
	}
	c.JSON(http.StatusOK, gin.H{"cycle_id": cycleID, "debate": artifacts})
}

// getLogs tails the bot's log file from the status directory. The
// teacher logs to stdout process-wide; a per-bot tail is only available
// when the deployment redirects that bot's slice of output to
// status/bot_{id}.log, so a missing file is reported empty, not an error.
func (s *Server) getLogs(c *gin.Context) {
	id := c.Param("id")
	lines := 200
	if v := c.Query("lines"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			lines = n
		}
	}
	dir := "status"
	if s.Status != nil && s.Status.Dir != "" {
		dir = s.Status.Dir
	}
	tail, err := tailFile(dir+"/bot_"+id+".log", lines)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"bot_id": id, "lines": []string{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"bot_id": id, "lines": tail})
}

// registerUser creates the account that owns the JWT required by
// api.AuthMiddleware on every /api/bots route.
func (s *Server) registerUser(c *gin.Context) {
	if s.DB == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "user store not configured"})
		return
	}
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PAYLOAD", "error": "invalid request payload"})
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "MISSING_CREDENTIALS", "error": "email and password are required"})
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_EMAIL", "error": "invalid email format"})
		return
	}

	ctx := c.Request.Context()
	existing, err := s.DB.GetUserByEmail(ctx, req.Email)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "error": err.Error()})
		return
	}
	if existing != nil {
		c.JSON(http.StatusConflict, gin.H{"code": "EMAIL_ALREADY_REGISTERED", "error": "email already registered"})
		return
	}

	pwHash, err := api.HashPassword(req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "error": "failed to hash password"})
		return
	}
	now := time.Now()
	user := db.User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		PasswordHash: pwHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.DB.CreateUser(ctx, user); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user_id": user.ID})
}

// loginUser exchanges valid credentials for the bearer token every
// other /api/bots route requires.
func (s *Server) loginUser(c *gin.Context) {
	if s.DB == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "user store not configured"})
		return
	}
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PAYLOAD", "error": "invalid request payload"})
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "MISSING_CREDENTIALS", "error": "email and password are required"})
		return
	}

	ctx := c.Request.Context()
	user, err := s.DB.GetUserByEmail(ctx, req.Email)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "error": err.Error()})
		return
	}
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": "INVALID_CREDENTIALS", "error": "invalid credentials"})
		return
	}
	if err := api.CheckPassword(user.PasswordHash, req.Password); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": "INVALID_CREDENTIALS", "error": "invalid credentials"})
		return
	}

	expiresAt := time.Now().Add(72 * time.Hour)
	token, err := api.GenerateToken(user.ID, s.JWTSecret, expiresAt)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "error": "failed to generate token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
		"user_id":    user.ID,
		"user_email": user.Email,
	})
}
