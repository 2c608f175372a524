package http

import (
	"net/http"

	"github.com/faztycoding/grandstate/internal/interfaces"
	"github.com/faztycoding/grandstate/internal/usecases"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Services are the usecases behind the API.
type Services struct {
	Auth       *usecases.AuthUsecase
	Status     *usecases.StatusUsecase
	Catalog    *usecases.CatalogUsecase
	Dispatcher *usecases.BatchDispatcher
	Sessions   *usecases.SessionRegistry
	QR         interfaces.QRSource // nil when the backend has no QR login
	Backend    string
}

type RouteOptions struct {
	JWTSecret string
	APIRate   rate.Limit
	APIBurst  int
	Log       zerolog.Logger
}

func SetupRoutes(r *gin.Engine, svc Services, opts RouteOptions) {
	middleware := NewMiddleware(opts.JWTSecret)
	posting := NewPostingHandler(svc.Status, svc.Catalog, svc.Dispatcher)
	session := NewSessionHandler(svc.Sessions, svc.QR, svc.Backend)
	admin := NewAdminHandler(svc.Auth)

	// Apply Security Middleware
	r.Use(RequestLogger(opts.Log))
	r.Use(SecurityHeaders())
	r.Use(RequestSizeLimiter(1 << 20)) // 1MB max request size
	r.Use(middleware.CORSMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "backend": svc.Backend})
	})

	// Public Auth Routes
	authGroup := r.Group("/api/auth")
	{
		authGroup.POST("/login", func(c *gin.Context) {
			var loginReq struct {
				Username string `json:"username"`
				Password string `json:"password"`
			}
			if err := c.ShouldBindJSON(&loginReq); err != nil {
				badRequest(c, "Invalid request")
				return
			}
			token, err := svc.Auth.Login(c.Request.Context(), loginReq.Username, loginReq.Password)
			if err != nil {
				writeError(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"token": token})
		})

		authGroup.POST("/register", func(c *gin.Context) {
			var regReq struct {
				Username string `json:"username"`
				Password string `json:"password"`
				Timezone string `json:"timezone"`
			}
			if err := c.ShouldBindJSON(&regReq); err != nil {
				badRequest(c, "Invalid request")
				return
			}
			// Validate inputs
			if !ValidSlug(regReq.Username) || len(regReq.Password) < 6 {
				badRequest(c, "Invalid username or password (min 6 chars)")
				return
			}
			user, err := svc.Auth.Register(c.Request.Context(), regReq.Username, regReq.Password, regReq.Timezone)
			if err != nil {
				writeError(c, err)
				return
			}
			c.JSON(http.StatusCreated, gin.H{"status": "registered", "user": user})
		})
	}

	// Protected Routes
	api := r.Group("/api")
	api.Use(middleware.AuthRequired())
	api.Use(middleware.RateLimitPerUser(opts.APIRate, opts.APIBurst))
	{
		api.GET("/packages", func(c *gin.Context) {
			c.JSON(http.StatusOK, usecases.Plans())
		})
		posting.RegisterRoutes(api)
		session.RegisterRoutes(api)
	}

	// Admin-only Routes
	adminGroup := r.Group("/api/admin")
	adminGroup.Use(middleware.AuthRequired())
	adminGroup.Use(middleware.AdminRequired())
	{
		adminGroup.GET("/users", admin.GetAllUsers)
		adminGroup.PUT("/users/:id/status", admin.UpdateUserStatus)
		adminGroup.PUT("/users/:id/package", admin.UpdateUserPackage)
	}
}
