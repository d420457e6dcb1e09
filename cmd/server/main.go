package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	"github.com/uwingabirejoselyne/credit-jambo-client-app/internal/database"
	mW "github.com/uwingabirejoselyne/credit-jambo-client-app/internal/middleware"
	"github.com/uwingabirejoselyne/credit-jambo-client-app/internal/services"
)

// @title Savings Account API
// @version 1.0
// @description Savings accounts with device-bound sessions and an atomic transaction ledger
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("session.customer_ttl_hours", "SESSION_CUSTOMER_TTL_HOURS")
	viper.BindEnv("session.admin_ttl_hours", "SESSION_ADMIN_TTL_HOURS")
	viper.BindEnv("session.inactive_retention_days", "SESSION_INACTIVE_RETENTION_DAYS")
	viper.BindEnv("argon2.time", "ARGON2_TIME")
	viper.BindEnv("argon2.memory", "ARGON2_MEMORY")
	viper.BindEnv("argon2.threads", "ARGON2_THREADS")
	viper.BindEnv("argon2.key_length", "ARGON2_KEY_LENGTH")
	viper.BindEnv("argon2.salt_length", "ARGON2_SALT_LENGTH")

	viper.SetDefault("argon2.time", 1)
	viper.SetDefault("argon2.memory", 64*1024)
	viper.SetDefault("argon2.threads", 4)
	viper.SetDefault("argon2.key_length", 32)
	viper.SetDefault("argon2.salt_length", 16)

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Store handles are constructed here and injected; nothing reaches
	// for a package-level connection.
	db := database.MustNewPostgres()
	defer db.Close()

	redisClient := database.NewRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	ledgerService := services.NewLedgerService(db)
	sessionService := services.NewSessionService(db)
	authService := services.NewAuthService(db, redisClient, sessionService)
	transactionService := services.NewTransactionService(ledgerService)
	adminService := services.NewAdminService(db, ledgerService)

	auth := mW.NewAuth(redisClient, sessionService)

	// Session housekeeping runs until shutdown.
	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	sessionService.StartSweeper(sweepCtx)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Post("/auth/register", authService.Register)
		r.Post("/auth/login", authService.Login)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(auth.Authenticate)

			r.Post("/auth/logout", authService.Logout)
			r.Post("/auth/refresh", authService.Refresh)
			r.Get("/auth/account", authService.GetAccount)

			r.Get("/transactions", transactionService.History)
			r.Get("/transactions/{txId}", transactionService.GetTransaction)
			r.Post("/transactions/deposit", transactionService.Deposit)
			r.Post("/transactions/withdraw", transactionService.Withdraw)
			r.Post("/transactions/transfer", transactionService.Transfer)

			// Administrator endpoints
			r.Group(func(r chi.Router) {
				r.Use(auth.RequireAdmin)

				r.Post("/admin/accounts/{accountId}/devices/verify", adminService.VerifyDevice)
				r.Post("/admin/accounts/{accountId}/credit", adminService.CreditAccount)
				r.Put("/admin/accounts/{accountId}/deactivate", adminService.DeactivateAccount)
				r.Post("/admin/transactions/{txId}/settle", adminService.SettleTransaction)
				r.Post("/admin/transactions/{txId}/cancel", adminService.CancelTransaction)
			})
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	stopSweeper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
