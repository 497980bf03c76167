package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	ProviderAuto        = "auto"
	ProviderMock        = "mock"
	ProviderEarthEngine = "earthengine"
	ProviderSentinelHub = "sentinelhub"
)

type Config struct {
	DatabaseURL      string
	Store            string
	ProjectsFile     string
	ActiveStatuses   []string
	Port             string
	AllowedOrigins   []string
	LogLevel         slog.Level
	NotifyWebhookURL string

	Monitor     Monitor
	Imagery     Imagery
	ObjectStore ObjectStore
}

// Monitor controls the monitoring run and its schedule.
type Monitor struct {
	Schedule     string
	RadiusMeters float64
	Delay        time.Duration
	RunOnStart   bool
}

// Imagery selects and configures the imagery provider.
type Imagery struct {
	Provider    string
	WindowDays  int
	MockDelay   time.Duration
	EarthEngine EarthEngine
	SentinelHub SentinelHub
}

type EarthEngine struct {
	Project           string
	ServiceAccountKey []byte
}

func (e EarthEngine) configured() bool {
	return e.Project != "" && len(e.ServiceAccountKey) > 0
}

type SentinelHub struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	TokenURL     string
	RPS          float64
}

func (s SentinelHub) configured() bool {
	return s.ClientID != "" && s.ClientSecret != ""
}

// ObjectStore is the S3-compatible bucket that receives rendered images.
type ObjectStore struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	PublicURL string
}

func (o ObjectStore) Validate() error {
	if o.Endpoint == "" {
		return errors.New("OBJECTSTORE_ENDPOINT is required")
	}
	if strings.Contains(o.Endpoint, "://") {
		return fmt.Errorf("OBJECTSTORE_ENDPOINT must not include scheme: %q", o.Endpoint)
	}
	if o.AccessKey == "" || o.SecretKey == "" {
		return errors.New("OBJECTSTORE_ACCESS_KEY and OBJECTSTORE_SECRET_KEY are required")
	}
	if o.Bucket == "" {
		return errors.New("OBJECTSTORE_BUCKET is required")
	}
	return nil
}

func Load() (*Config, error) {
	store := envString("STORE", StorePostgres)
	dbURL := envString("DATABASE_URL", "")
	switch store {
	case StorePostgres:
		if dbURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required")
		}
	case StoreMemory:
	default:
		return nil, fmt.Errorf("unknown STORE %q", store)
	}

	level, err := parseLevel(envString("LOG_LEVEL", "info"))
	if err != nil {
		return nil, err
	}

	monitor, err := loadMonitor()
	if err != nil {
		return nil, err
	}
	imagery, err := loadImagery()
	if err != nil {
		return nil, err
	}
	objectStore, err := loadObjectStore()
	if err != nil {
		return nil, err
	}

	if imagery.Provider != ProviderMock {
		if err := objectStore.Validate(); err != nil {
			return nil, fmt.Errorf("imagery provider %s needs object storage: %w", imagery.Provider, err)
		}
	}

	return &Config{
		DatabaseURL:      dbURL,
		Store:            store,
		ProjectsFile:     envString("PROJECTS_FILE", ""),
		ActiveStatuses:   envList("ACTIVE_PROJECT_STATUSES", []string{"active", "published"}),
		Port:             envString("PORT", "8080"),
		AllowedOrigins:   envList("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		LogLevel:         level,
		NotifyWebhookURL: envString("NOTIFY_WEBHOOK_URL", ""),
		Monitor:          monitor,
		Imagery:          imagery,
		ObjectStore:      objectStore,
	}, nil
}

func loadMonitor() (Monitor, error) {
	radius, err := envFloat("MONITOR_RADIUS_METERS", 500)
	if err != nil {
		return Monitor{}, err
	}
	if radius <= 0 {
		return Monitor{}, errors.New("MONITOR_RADIUS_METERS must be positive")
	}
	delay, err := envDuration("MONITOR_DELAY", 2*time.Second)
	if err != nil {
		return Monitor{}, err
	}
	if delay < 0 {
		return Monitor{}, errors.New("MONITOR_DELAY must be >= 0")
	}
	runOnStart, err := envBool("RUN_ON_START", false)
	if err != nil {
		return Monitor{}, err
	}
	return Monitor{
		// 02:00 on the first day of every month.
		Schedule:     envString("MONITOR_SCHEDULE", "0 2 1 * *"),
		RadiusMeters: radius,
		Delay:        delay,
		RunOnStart:   runOnStart,
	}, nil
}

func loadImagery() (Imagery, error) {
	windowDays, err := envInt("IMAGERY_WINDOW_DAYS", 30)
	if err != nil {
		return Imagery{}, err
	}
	mockDelay, err := envDuration("MOCK_DELAY", 500*time.Millisecond)
	if err != nil {
		return Imagery{}, err
	}
	rps, err := envFloat("SENTINELHUB_RPS", 5)
	if err != nil {
		return Imagery{}, err
	}
	key, err := loadKey(envString("EE_SERVICE_ACCOUNT_KEY", ""))
	if err != nil {
		return Imagery{}, err
	}

	img := Imagery{
		Provider:   envString("IMAGERY_PROVIDER", ProviderAuto),
		WindowDays: windowDays,
		MockDelay:  mockDelay,
		EarthEngine: EarthEngine{
			Project:           envString("EE_PROJECT", ""),
			ServiceAccountKey: key,
		},
		SentinelHub: SentinelHub{
			ClientID:     envString("SENTINELHUB_CLIENT_ID", ""),
			ClientSecret: envString("SENTINELHUB_CLIENT_SECRET", ""),
			BaseURL:      envString("SENTINELHUB_BASE_URL", "https://services.sentinel-hub.com"),
			TokenURL:     envString("SENTINELHUB_TOKEN_URL", "https://services.sentinel-hub.com/auth/realms/main/protocol/openid-connect/token"),
			RPS:          rps,
		},
	}

	provider, err := resolveProvider(img)
	if err != nil {
		return Imagery{}, err
	}
	img.Provider = provider
	return img, nil
}

// resolveProvider picks the provider. "auto" prefers Earth Engine, then
// Sentinel Hub, then the mock; an explicit choice without credentials fails.
func resolveProvider(img Imagery) (string, error) {
	switch img.Provider {
	case ProviderAuto:
		switch {
		case img.EarthEngine.configured():
			return ProviderEarthEngine, nil
		case img.SentinelHub.configured():
			return ProviderSentinelHub, nil
		}
		slog.Warn("no imagery credentials configured, using mock provider")
		return ProviderMock, nil
	case ProviderMock:
		return ProviderMock, nil
	case ProviderEarthEngine:
		if !img.EarthEngine.configured() {
			return "", errors.New("IMAGERY_PROVIDER=earthengine requires EE_PROJECT and EE_SERVICE_ACCOUNT_KEY")
		}
		return ProviderEarthEngine, nil
	case ProviderSentinelHub:
		if !img.SentinelHub.configured() {
			return "", errors.New("IMAGERY_PROVIDER=sentinelhub requires SENTINELHUB_CLIENT_ID and SENTINELHUB_CLIENT_SECRET")
		}
		return ProviderSentinelHub, nil
	}
	return "", fmt.Errorf("unknown IMAGERY_PROVIDER %q", img.Provider)
}

// loadKey accepts inline JSON or a path to a key file.
func loadKey(v string) ([]byte, error) {
	if v == "" {
		return nil, nil
	}
	if strings.HasPrefix(v, "{") {
		return []byte(v), nil
	}
	data, err := os.ReadFile(v)
	if err != nil {
		return nil, fmt.Errorf("read EE_SERVICE_ACCOUNT_KEY: %w", err)
	}
	return data, nil
}

func loadObjectStore() (ObjectStore, error) {
	useSSL, err := envBool("OBJECTSTORE_USE_SSL", true)
	if err != nil {
		return ObjectStore{}, err
	}
	return ObjectStore{
		Endpoint:  envString("OBJECTSTORE_ENDPOINT", ""),
		AccessKey: envString("OBJECTSTORE_ACCESS_KEY", ""),
		SecretKey: envString("OBJECTSTORE_SECRET_KEY", ""),
		Bucket:    envString("OBJECTSTORE_BUCKET", "satellite-images"),
		Region:    envString("OBJECTSTORE_REGION", "us-east-1"),
		UseSSL:    useSSL,
		PublicURL: envString("OBJECTSTORE_PUBLIC_URL", ""),
	}, nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("parse LOG_LEVEL: %w", err)
	}
	return level, nil
}
