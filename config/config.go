package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config enthält alle Konfigurationsparameter aus Umgebungsvariablen.
type Config struct {
	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" required:"true"`

	HTTPPort string `envconfig:"HTTP_PORT" default:"4243"`

	CTGovBaseURL   string        `envconfig:"CTGOV_BASE_URL" default:"https://clinicaltrials.gov/api/v2/studies"`
	PageSize       int           `envconfig:"CTGOV_PAGE_SIZE" default:"100"`
	RequestTimeout time.Duration `envconfig:"CTGOV_REQUEST_TIMEOUT" default:"30s"`
	MaxAttempts    int           `envconfig:"CTGOV_MAX_ATTEMPTS" default:"3"`

	CronSchedule string `envconfig:"CRON_SCHEDULE" default:"0 0 * * *"`

	ExportCSVPath string `envconfig:"EXPORT_CSV_PATH" default:"clinical_trials.csv"`
	ExportJSONDir string `envconfig:"EXPORT_JSON_DIR" default:"json_files"`

	// S3-Zugang ist optional; ohne Bucket werden Exporte nur lokal abgelegt.
	S3Key    string `envconfig:"EXPORT_S3_KEY"`
	S3Secret string `envconfig:"EXPORT_S3_SECRET"`
	S3URL    string `envconfig:"EXPORT_S3_URL"`
	S3Region string `envconfig:"EXPORT_S3_REGION"`
	S3Bucket string `envconfig:"EXPORT_S3_BUCKET"`
}

// DSN gibt den Data Source Name für die PostgreSQL-Verbindung zurück.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// S3Enabled meldet, ob ein Bucket für Export-Uploads konfiguriert ist.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != ""
}

// Load lädt die Konfiguration aus den Umgebungsvariablen.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	err := envconfig.Process("", &c)
	return &c, err
}
