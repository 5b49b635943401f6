package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"trial-hand/config"
	"trial-hand/models"
	"trial-hand/providers/ctgov"
	"trial-hand/services"
	"trial-hand/storage"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"

	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
)

var trialsStoredCounter prometheus.Counter

func init() {
	trialsStoredCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trials_stored_total",
			Help: "Total number of trial records stored by scrape runs.",
		},
	)
	prometheus.MustRegister(trialsStoredCounter)
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}

	// Setup Database
	repo, err := storage.Open(cfg, logging)
	if err != nil {
		logging.Fatal("Failed to connect to trials database", zap.Error(err))
	}
	defer repo.Close()
	logging.Info("Successfully connected to trials database.")

	logging.Info("Running database auto-migration...")
	if err := repo.DB().AutoMigrate(&models.SearchProfile{}); err != nil {
		logging.Fatal("Auto-migration failed", zap.Error(err))
	}

	// Seeding
	seedDefaultProfiles(repo.DB(), logging)

	// Setup Provider & Services
	fetcher := ctgov.NewFetcher(cfg, logging)

	var s3Client *awss3.Client
	if cfg.S3Enabled() {
		s3Client, err = storage.NewS3Client(cfg)
		if err != nil {
			logging.Fatal("S3 client creation failed", zap.Error(err))
		}
	}

	ingestService := services.NewIngestService(cfg, repo, fetcher, logging)
	exportService := services.NewExportService(cfg, repo, s3Client, logging)

	// Setup Router
	router := gin.Default()
	router.Use(gin.Recovery())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	setupIngestRoutes(router, ingestService, repo.DB(), logging)
	setupProfileRoutes(router, repo.DB(), logging)
	setupExportRoutes(router, exportService, cfg, logging)

	// Setup Cron
	cronScheduler := cron.New()
	cronScheduler.AddFunc(cfg.CronSchedule, func() {
		logging.Info("Running scheduled scrape job...")
		var profiles []models.SearchProfile
		if err := repo.DB().Find(&profiles).Error; err != nil {
			logging.Error("Cron job failed to load profiles", zap.Error(err))
			return
		}
		count, err := ingestService.RunProfiles(context.Background(), profiles)
		if err != nil {
			logging.Error("Cron job finished with failures", zap.Int("stored_trials", count), zap.Error(err))
		} else {
			logging.Info("Cron job completed", zap.Int("stored_trials", count))
		}
		trialsStoredCounter.Add(float64(count))
	})
	cronScheduler.Start()

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logging.Fatal("Failed to run server", zap.Error(err))
	}
}

func setupIngestRoutes(router *gin.Engine, ingestService *services.IngestService, db *gorm.DB, logger *zap.Logger) {
	rg := router.Group("/ingest")

	// Ad-hoc-Lauf mit Filtern aus dem Request-Body
	rg.POST("/", func(c *gin.Context) {
		var params services.IngestParams
		if err := c.ShouldBindJSON(&params); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if params.Condition == "" && params.Intervention == "" && params.OtherTerms == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": services.ErrNoSearchTerms.Error()})
			return
		}

		go func() {
			summary, err := ingestService.Run(context.Background(), params)
			if err != nil {
				logger.Error("Async scrape run failed", zap.Int("stored", summary.Stored), zap.Error(err))
			} else {
				logger.Info("Async scrape run completed", zap.Int("stored", summary.Stored))
			}
			trialsStoredCounter.Add(float64(summary.Stored))
		}()
		c.JSON(http.StatusAccepted, gin.H{"message": "Scrape run triggered."})
	})

	rg.POST("/profile/:id", func(c *gin.Context) {
		id := c.Param("id")
		var profile models.SearchProfile
		if err := db.First(&profile, id).Error; err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
			return
		}

		go func() {
			count, err := ingestService.RunProfiles(context.Background(), []models.SearchProfile{profile})
			if err != nil {
				logger.Error("Async profile run failed", zap.String("profile", profile.Name), zap.Error(err))
			} else {
				logger.Info("Async profile run completed", zap.String("profile", profile.Name), zap.Int("stored", count))
			}
			trialsStoredCounter.Add(float64(count))
		}()
		c.JSON(http.StatusAccepted, gin.H{"message": "Scrape run for profile " + profile.Name + " triggered."})
	})

	rg.POST("/all", func(c *gin.Context) {
		var profiles []models.SearchProfile
		if err := db.Find(&profiles).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}

		go func() {
			count, err := ingestService.RunProfiles(context.Background(), profiles)
			if err != nil {
				logger.Error("Async all-profile run failed", zap.Error(err))
			} else {
				logger.Info("Async all-profile run completed", zap.Int("stored", count))
			}
			trialsStoredCounter.Add(float64(count))
		}()
		c.JSON(http.StatusAccepted, gin.H{"message": "Scrape run for all profiles triggered."})
	})
}

func setupProfileRoutes(router *gin.Engine, db *gorm.DB, logger *zap.Logger) {
	rg := router.Group("/profiles")
	rg.POST("/", func(c *gin.Context) {
		var profile models.SearchProfile
		if err := c.ShouldBindJSON(&profile); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if profile.Condition == "" && profile.Intervention == "" && profile.OtherTerms == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": services.ErrNoSearchTerms.Error()})
			return
		}
		if err := db.Create(&profile).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create profile"})
			return
		}
		c.JSON(http.StatusCreated, profile)
	})
	rg.GET("/", func(c *gin.Context) {
		var profiles []models.SearchProfile
		if err := db.Find(&profiles).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, profiles)
	})
}

func setupExportRoutes(router *gin.Engine, exportService *services.ExportService, cfg *config.Config, logger *zap.Logger) {
	rg := router.Group("/export")
	rg.POST("/csv", func(c *gin.Context) {
		path := cfg.ExportCSVPath
		rows, err := exportService.ExportCSV(path)
		if err != nil {
			logger.Error("CSV export failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"path": path, "rows": rows})
	})
	rg.POST("/json", func(c *gin.Context) {
		dir := cfg.ExportJSONDir
		files, err := exportService.ExportJSON(dir)
		if err != nil {
			logger.Error("JSON export failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"dir": dir, "files": files})
	})
}

// seedDefaultProfiles legt Beispielprofile an, wenn noch keine existieren.
func seedDefaultProfiles(db *gorm.DB, logger *zap.Logger) {
	var count int64
	db.Model(&models.SearchProfile{}).Count(&count)
	if count > 0 {
		return
	}

	defaults := []models.SearchProfile{
		{Name: "Diabetes (Metformin)", Condition: "diabetes", Intervention: "metformin"},
		{Name: "Brain Cancer mit Ergebnissen", Condition: "brain cancer", ResultsOnly: true},
	}
	for _, profile := range defaults {
		if err := db.Create(&profile).Error; err != nil {
			logger.Warn("Seeding eines Suchprofils fehlgeschlagen", zap.String("profile", profile.Name), zap.Error(err))
		}
	}
	logger.Info("Default-Suchprofile angelegt", zap.Int("count", len(defaults)))
}
