package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Veraticus/margin-intel/internal/common"
	"github.com/Veraticus/margin-intel/internal/config"
	"github.com/Veraticus/margin-intel/internal/report"
	"github.com/Veraticus/margin-intel/internal/sheets"
)

// exportToSheets writes rep to the configured Google spreadsheet.
func exportToSheets(ctx context.Context, settings config.Settings, rep *report.Report) (*sheets.Result, error) {
	writer, err := sheets.NewWriter(ctx, sheets.ConfigFrom(settings.Sheets), slog.Default().With("component", "sheets"))
	if err != nil {
		return nil, common.NewUserError("Google Sheets export unavailable", err)
	}
	result, err := writer.Write(ctx, rep)
	if err != nil {
		return nil, fmt.Errorf("failed to export to Google Sheets: %w", err)
	}
	return result, nil
}
