// Package sheets exports margin reports to Google Sheets.
package sheets

import (
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/margin-intel/internal/config"
)

// Config holds the configuration for the Google Sheets writer.
type Config struct {
	ClientID           string
	ClientSecret       string
	RefreshToken       string
	ServiceAccountPath string
	SpreadsheetID      string
	SpreadsheetName    string
	TimeZone           string
	RetryAttempts      int
	RetryDelay         time.Duration
	EnableFormatting   bool
}

// ErrNotConfigured reports that no Sheets credentials were provided.
var ErrNotConfigured = errors.New("google sheets export is not configured")

// DefaultConfig returns a Config with retry and formatting enabled.
func DefaultConfig() Config {
	return Config{
		SpreadsheetName:  "Margin Intelligence Report",
		TimeZone:         "America/Toronto",
		RetryAttempts:    3,
		RetryDelay:       time.Second,
		EnableFormatting: true,
	}
}

// ConfigFrom maps application settings onto a writer Config.
func ConfigFrom(s config.SheetsSettings) Config {
	c := DefaultConfig()
	c.ServiceAccountPath = s.ServiceAccountPath
	c.ClientID = s.ClientID
	c.ClientSecret = s.ClientSecret
	c.RefreshToken = s.RefreshToken
	c.SpreadsheetID = s.SpreadsheetID
	if s.SpreadsheetName != "" {
		c.SpreadsheetName = s.SpreadsheetName
	}
	if s.TimeZone != "" {
		c.TimeZone = s.TimeZone
	}
	return c
}

// Validate checks that exactly one authentication method is configured.
func (c *Config) Validate() error {
	hasOAuth := c.ClientID != "" && c.ClientSecret != "" && c.RefreshToken != ""
	hasServiceAccount := c.ServiceAccountPath != ""

	if !hasOAuth && !hasServiceAccount {
		return fmt.Errorf("%w: set sheets.service_account_path or sheets.client_id, sheets.client_secret and sheets.refresh_token", ErrNotConfigured)
	}
	if hasOAuth && hasServiceAccount {
		return fmt.Errorf("multiple authentication methods configured; use either OAuth2 or service account")
	}
	if c.RetryAttempts < 0 {
		return fmt.Errorf("retry attempts cannot be negative")
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("retry delay cannot be negative")
	}
	return nil
}
