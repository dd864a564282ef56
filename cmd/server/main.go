package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/driftline/postforge/internal/api"
	"github.com/driftline/postforge/internal/auth"
	"github.com/driftline/postforge/internal/config"
	"github.com/driftline/postforge/internal/entitlement"
	"github.com/driftline/postforge/internal/generation"
	"github.com/driftline/postforge/internal/library"
	"github.com/driftline/postforge/internal/ratelimit"
	"github.com/driftline/postforge/internal/verification"
	"github.com/driftline/postforge/internal/worker"
)

func main() {
	log.Println("[Server] Starting postforge server...")

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("[Server] Failed to load config: %v", err)
	}

	// ===== DATABASE =====
	if cfg.Database.URL == "" {
		log.Fatal("[Server] DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("[Server] Failed to open database: %v", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Minute)
	if err := db.Ping(); err != nil {
		log.Fatalf("[Server] Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("[Server] Database connected")

	// ===== REDIS =====
	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("[Server] Invalid REDIS_URL: %v", err)
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("[Server] Failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()
		log.Println("[Server] Redis connected")
	} else {
		log.Println("[Server] Redis not configured; run locks fall back to PG advisory locks, video jobs disabled")
	}

	// ===== AWS =====
	awsOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.AWS.Region),
	}
	if cfg.AWS.AccessKeyID != "" {
		awsOpts = append(awsOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWS.AccessKeyID, cfg.AWS.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsOpts...)
	if err != nil {
		log.Fatalf("[Server] Failed to load AWS config: %v", err)
	}
	bedrockClient := bedrockruntime.NewFromConfig(awsCfg)

	// ===== ENTITLEMENTS =====
	policy := entitlement.Policy{
		TextCreditCost:       cfg.Entitlement.TextCreditCost,
		ImageCreditCost:      cfg.Entitlement.ImageCreditCost,
		VideoCreditCost:      cfg.Entitlement.VideoCreditCost,
		TrialVideoCapSeconds: cfg.Entitlement.TrialVideoCapSeconds,
		MaxVideoSeconds:      cfg.Entitlement.MaxVideoSeconds,
		TrialDays:            cfg.Entitlement.TrialDays,
		TrialImages:          cfg.Entitlement.TrialImages,
		TrialVideos:          cfg.Entitlement.TrialVideos,
	}
	ledger := entitlement.NewLedger(entitlement.NewPostgresStore(db), policy)
	gate := entitlement.NewGate(ledger)

	// ===== GENERATION =====
	retryPolicy := generation.Policy{
		MaxAttempts:       cfg.Generation.MaxAttempts,
		BaseDelay:         cfg.Generation.BaseDelay(),
		BackoffMultiplier: cfg.Generation.BackoffMultiplier,
	}
	providers := generation.ChainProviders{
		Placeholder: generation.NewPlaceholderProvider(),
	}
	caps := generation.Capabilities{}
	if cfg.Generation.TextModelID != "" {
		providers.Text = generation.NewBedrockTextProvider(bedrockClient, cfg.Generation.TextModelID)
		caps.TextModel = true
	}
	if cfg.Generation.ImageModelID != "" {
		providers.Image = generation.NewBedrockImageProvider(bedrockClient, cfg.Generation.ImageModelID)
		caps.ImageModel = true
	}
	if cfg.Generation.VideoModelID != "" {
		providers.Video = generation.NewBedrockVideoProvider(bedrockClient, cfg.Generation.VideoModelID)
		caps.VideoModel = true
	}
	log.Printf("[Server] Generation capabilities: text=%v image=%v video=%v", caps.TextModel, caps.ImageModel, caps.VideoModel)

	textChain := generation.SelectChain("text", caps, providers, retryPolicy)
	imageChain := generation.SelectChain("image", caps, providers, retryPolicy)
	videoChain := generation.SelectChain("video", caps, providers, retryPolicy)

	// ===== LIBRARY =====
	var lib *library.Library
	if cfg.Library.Bucket != "" {
		lib = library.New(db, s3.NewFromConfig(awsCfg), cfg.Library.Bucket, cfg.Library.CDNDomain)
		log.Printf("[Server] Media library enabled (bucket=%s)", cfg.Library.Bucket)
	} else {
		log.Println("[Server] MEDIA_BUCKET not set; artifacts will not be persisted to the library")
	}

	// ===== VERIFICATION =====
	var verifier *verification.Verifier
	if redisClient != nil && cfg.Verification.FromAddress != "" {
		sender := verification.NewSESSender(sesv2.NewFromConfig(awsCfg), cfg.Verification.FromAddress)
		verifier = verification.New(redisClient, ledger, sender, time.Duration(cfg.Verification.CodeTTLMinutes)*time.Minute)
	} else {
		log.Println("[Server] Email verification not configured (needs Redis and VERIFICATION_FROM)")
	}

	// ===== RATE LIMITING =====
	var limitStore ratelimit.Store
	if redisClient != nil {
		limitStore = ratelimit.NewRedisStore(redisClient)
	} else {
		limitStore = ratelimit.NewMemoryStore()
	}
	sendLimiter := ratelimit.New(limitStore, "verifysend", 1, time.Duration(cfg.Verification.SendWindowSeconds)*time.Second)
	codeLimiter := ratelimit.New(limitStore, "verifycode", cfg.Verification.GuessLimit, time.Duration(cfg.Verification.GuessWindowSeconds)*time.Second)

	// ===== CAMPAIGNS =====
	campaignStore := worker.NewPostgresStore(db)
	schedule := worker.ScheduleConfig{
		PostsPerDay:       cfg.Campaign.PostsPerDay,
		MaxPosts:          cfg.Campaign.MaxPosts,
		MorningSlotHour:   cfg.Campaign.MorningSlotHour,
		AfternoonSlotHour: cfg.Campaign.AfternoonSlotHour,
	}
	// A nil *library.Library must stay a nil interface inside the
	// orchestrator, so only assign it when configured.
	var saver worker.MediaSaver
	if lib != nil {
		saver = lib
	}
	orchestrator := worker.NewOrchestrator(db, redisClient, campaignStore, gate, textChain, imageChain, saver, schedule)

	reaper := worker.NewReaper(campaignStore,
		time.Duration(cfg.Campaign.StuckRunMinutes)*time.Minute,
		time.Duration(cfg.Campaign.ReaperSweepMinutes)*time.Minute)
	reaper.Start()
	defer reaper.Stop()
	// Catch campaigns orphaned by the previous process right away.
	reaper.Sweep(context.Background())

	// ===== AUTH =====
	var authManager *auth.Manager
	if cfg.Auth.GoogleClientID != "" {
		baseURL := cfg.Server.BaseURL
		if baseURL == "" {
			baseURL = "http://" + cfg.Server.Addr()
		}
		authManager = auth.NewManager(&cfg.Auth, db, ledger, baseURL)
		authManager.CleanupExpiredSessions()
		log.Println("[Server] Google OAuth enabled")
	} else {
		log.Println("[Server] GOOGLE_CLIENT_ID not set; API is unauthenticated (dev only)")
	}

	// ===== HTTP =====
	var videoJobs *generation.VideoJobs
	if redisClient != nil {
		videoJobs = generation.NewVideoJobs(redisClient)
	}
	handlers := api.NewHandlers(api.Deps{
		Gate:         gate,
		Ledger:       ledger,
		TextChain:    textChain,
		ImageChain:   imageChain,
		VideoChain:   videoChain,
		VideoJobs:    videoJobs,
		Library:      lib,
		Orchestrator: orchestrator,
		Campaigns:    campaignStore,
		Verifier:     verifier,
		SendLimiter:  sendLimiter,
		CodeLimiter:  codeLimiter,
	})
	router := api.SetupRoutes(handlers, authManager)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("[Server] Listening on %s", cfg.Server.Addr())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[Server] HTTP server error: %v", err)
		}
	}()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-done
	log.Println("[Server] Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Server] Shutdown error: %v", err)
	}
	log.Println("[Server] Stopped")
}
