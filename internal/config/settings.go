package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Veraticus/margin-intel/internal/common"
	"github.com/spf13/viper"
)

// Thresholds gate the deterministic risk signals.
type Thresholds struct {
	ReturnRate   float64
	RevenueShare float64
	Top1High     float64
	Top1Medium   float64
	Top3High     float64
}

// Limits caps list sizes across the pipeline.
type Limits struct {
	MaxReasonSamples int
	MaxActions       int
	HighReturnSKUs   int
	TopRiskSKUs      int
}

// LLMSettings configures the action ranker's provider.
type LLMSettings struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	RateLimit   int
	MaxRetries  int
	CacheTTL    time.Duration
}

// ServerSettings configures the HTTP transport.
type ServerSettings struct {
	Addr            string
	CertDir         string
	MaxUploadMB     int64
	ShutdownTimeout time.Duration
	TLS             bool
}

// SheetsSettings configures report export to Google Sheets. Either a
// service account key or OAuth2 client credentials with a refresh token
// authenticate the export.
type SheetsSettings struct {
	ServiceAccountPath string
	ClientID           string
	ClientSecret       string
	RefreshToken       string
	SpreadsheetID      string
	SpreadsheetName    string
	TimeZone           string
}

// Settings is the resolved application configuration.
type Settings struct {
	Thresholds  Thresholds
	Limits      Limits
	LLM         LLMSettings
	Server      ServerSettings
	Sheets      SheetsSettings
	Currency    string
	RunsBackend string
}

// Defaults returns the built-in configuration.
func Defaults() Settings {
	return Settings{
		Thresholds: Thresholds{
			ReturnRate:   0.10,
			RevenueShare: 0.05,
			Top1High:     0.45,
			Top1Medium:   0.30,
			Top3High:     0.65,
		},
		Limits: Limits{
			MaxReasonSamples: 80,
			MaxActions:       7,
			HighReturnSKUs:   20,
			TopRiskSKUs:      10,
		},
		LLM: LLMSettings{
			Provider:    "openai",
			Temperature: 0.2,
			MaxTokens:   4096,
			Timeout:     60 * time.Second,
			RateLimit:   60,
			MaxRetries:  3,
			CacheTTL:    15 * time.Minute,
		},
		Server: ServerSettings{
			Addr:            ":8080",
			CertDir:         "~/.config/" + AppDirName + "/certs",
			MaxUploadMB:     32,
			ShutdownTimeout: 30 * time.Second,
		},
		Sheets: SheetsSettings{
			SpreadsheetName: "Margin Intelligence Report",
			TimeZone:        "America/Toronto",
		},
		Currency:    "CAD",
		RunsBackend: "memory",
	}
}

// SetDefaults registers Defaults() under their viper keys.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("thresholds.return_rate", d.Thresholds.ReturnRate)
	v.SetDefault("thresholds.revenue_share", d.Thresholds.RevenueShare)
	v.SetDefault("thresholds.top1_high", d.Thresholds.Top1High)
	v.SetDefault("thresholds.top1_medium", d.Thresholds.Top1Medium)
	v.SetDefault("thresholds.top3_high", d.Thresholds.Top3High)
	v.SetDefault("limits.max_reason_samples", d.Limits.MaxReasonSamples)
	v.SetDefault("limits.max_actions", d.Limits.MaxActions)
	v.SetDefault("limits.high_return_skus", d.Limits.HighReturnSKUs)
	v.SetDefault("limits.top_risk_skus", d.Limits.TopRiskSKUs)
	v.SetDefault("llm.provider", d.LLM.Provider)
	v.SetDefault("llm.temperature", d.LLM.Temperature)
	v.SetDefault("llm.max_tokens", d.LLM.MaxTokens)
	v.SetDefault("llm.timeout", d.LLM.Timeout)
	v.SetDefault("llm.rate_limit", d.LLM.RateLimit)
	v.SetDefault("llm.max_retries", d.LLM.MaxRetries)
	v.SetDefault("llm.cache_ttl", d.LLM.CacheTTL)
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.max_upload_mb", d.Server.MaxUploadMB)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.tls", d.Server.TLS)
	v.SetDefault("server.cert_dir", d.Server.CertDir)
	v.SetDefault("sheets.spreadsheet_name", d.Sheets.SpreadsheetName)
	v.SetDefault("sheets.time_zone", d.Sheets.TimeZone)
	v.SetDefault("report.currency", d.Currency)
	v.SetDefault("runs.backend", d.RunsBackend)
}

// Load resolves Settings from viper, falling back to provider environment
// variables for the API key when none is configured.
func Load(v *viper.Viper) (Settings, error) {
	s := Settings{
		Thresholds: Thresholds{
			ReturnRate:   v.GetFloat64("thresholds.return_rate"),
			RevenueShare: v.GetFloat64("thresholds.revenue_share"),
			Top1High:     v.GetFloat64("thresholds.top1_high"),
			Top1Medium:   v.GetFloat64("thresholds.top1_medium"),
			Top3High:     v.GetFloat64("thresholds.top3_high"),
		},
		Limits: Limits{
			MaxReasonSamples: v.GetInt("limits.max_reason_samples"),
			MaxActions:       v.GetInt("limits.max_actions"),
			HighReturnSKUs:   v.GetInt("limits.high_return_skus"),
			TopRiskSKUs:      v.GetInt("limits.top_risk_skus"),
		},
		LLM: LLMSettings{
			Provider:    strings.ToLower(v.GetString("llm.provider")),
			Model:       v.GetString("llm.model"),
			APIKey:      v.GetString("llm.api_key"),
			BaseURL:     v.GetString("llm.base_url"),
			Temperature: v.GetFloat64("llm.temperature"),
			MaxTokens:   v.GetInt("llm.max_tokens"),
			Timeout:     v.GetDuration("llm.timeout"),
			RateLimit:   v.GetInt("llm.rate_limit"),
			MaxRetries:  v.GetInt("llm.max_retries"),
			CacheTTL:    v.GetDuration("llm.cache_ttl"),
		},
		Server: ServerSettings{
			Addr:            v.GetString("server.addr"),
			MaxUploadMB:     v.GetInt64("server.max_upload_mb"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
			TLS:             v.GetBool("server.tls"),
			CertDir:         ExpandPath(v.GetString("server.cert_dir")),
		},
		Sheets: SheetsSettings{
			ServiceAccountPath: ExpandPath(v.GetString("sheets.service_account_path")),
			ClientID:           v.GetString("sheets.client_id"),
			ClientSecret:       v.GetString("sheets.client_secret"),
			RefreshToken:       v.GetString("sheets.refresh_token"),
			SpreadsheetID:      v.GetString("sheets.spreadsheet_id"),
			SpreadsheetName:    v.GetString("sheets.spreadsheet_name"),
			TimeZone:           v.GetString("sheets.time_zone"),
		},
		Currency:    v.GetString("report.currency"),
		RunsBackend: strings.ToLower(v.GetString("runs.backend")),
	}
	s.Sheets.fillFromEnv()

	if s.LLM.APIKey == "" {
		switch s.LLM.Provider {
		case "anthropic":
			s.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		default:
			s.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	if s.LLM.Model == "" {
		if m := os.Getenv("LLM_MODEL"); m != "" {
			s.LLM.Model = m
		}
	}

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// fillFromEnv applies the GOOGLE_SHEETS_* variables to unset fields.
func (s *SheetsSettings) fillFromEnv() {
	fields := []struct {
		dst *string
		env string
	}{
		{&s.ServiceAccountPath, "GOOGLE_SHEETS_SERVICE_ACCOUNT_PATH"},
		{&s.ClientID, "GOOGLE_SHEETS_CLIENT_ID"},
		{&s.ClientSecret, "GOOGLE_SHEETS_CLIENT_SECRET"},
		{&s.RefreshToken, "GOOGLE_SHEETS_REFRESH_TOKEN"},
		{&s.SpreadsheetID, "GOOGLE_SHEETS_SPREADSHEET_ID"},
	}
	for _, f := range fields {
		if *f.dst == "" {
			*f.dst = os.Getenv(f.env)
		}
	}
	s.ServiceAccountPath = ExpandPath(s.ServiceAccountPath)
}

// Validate rejects out-of-range thresholds and non-positive limits.
func (s Settings) Validate() error {
	fractions := map[string]float64{
		"thresholds.return_rate":   s.Thresholds.ReturnRate,
		"thresholds.revenue_share": s.Thresholds.RevenueShare,
		"thresholds.top1_high":     s.Thresholds.Top1High,
		"thresholds.top1_medium":   s.Thresholds.Top1Medium,
		"thresholds.top3_high":     s.Thresholds.Top3High,
	}
	for key, val := range fractions {
		if val < 0 || val > 1 {
			return fmt.Errorf("%w: %s must be within [0,1], got %v", common.ErrInvalidConfig, key, val)
		}
	}
	if s.Thresholds.Top1Medium > s.Thresholds.Top1High {
		return fmt.Errorf("%w: thresholds.top1_medium exceeds thresholds.top1_high", common.ErrInvalidConfig)
	}

	limits := map[string]int{
		"limits.max_reason_samples": s.Limits.MaxReasonSamples,
		"limits.max_actions":        s.Limits.MaxActions,
		"limits.high_return_skus":   s.Limits.HighReturnSKUs,
		"limits.top_risk_skus":      s.Limits.TopRiskSKUs,
	}
	for key, val := range limits {
		if val <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", common.ErrInvalidConfig, key, val)
		}
	}

	switch s.RunsBackend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("%w: runs.backend must be memory or sqlite, got %q", common.ErrInvalidConfig, s.RunsBackend)
	}

	if strings.TrimSpace(s.Currency) == "" {
		return fmt.Errorf("%w: report.currency is required", common.ErrInvalidConfig)
	}
	return nil
}
