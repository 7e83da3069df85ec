package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/Veraticus/margin-intel/internal/common"
	"github.com/Veraticus/margin-intel/internal/report"
)

// Result identifies the spreadsheet a report was written to.
type Result struct {
	SpreadsheetID string
	URL           string
}

// Writer writes reports into a Google spreadsheet, one tab per section.
type Writer struct {
	service *sheets.Service
	logger  *slog.Logger
	config  Config
}

// NewWriter creates a Writer authenticated per config.
func NewWriter(ctx context.Context, config Config, logger *slog.Logger) (*Writer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	svc, err := createSheetsService(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}
	return newWriter(svc, config, logger), nil
}

func newWriter(svc *sheets.Service, config Config, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{service: svc, config: config, logger: logger}
}

// Write replaces the report tabs of the configured spreadsheet, creating
// the spreadsheet or missing tabs first.
func (w *Writer) Write(ctx context.Context, rep *report.Report) (*Result, error) {
	if rep == nil {
		return nil, fmt.Errorf("report cannot be nil")
	}
	tabs := Tabs(rep)

	var (
		result   *Result
		sheetIDs map[string]int64
	)
	err := w.retry(ctx, func() error {
		var err error
		result, sheetIDs, err = w.prepareSpreadsheet(ctx, tabs)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to prepare spreadsheet: %w", err)
	}

	if err := w.retry(ctx, func() error { return w.writeValues(ctx, result.SpreadsheetID, tabs) }); err != nil {
		return nil, fmt.Errorf("failed to write report: %w", err)
	}

	if w.config.EnableFormatting {
		err := w.retry(ctx, func() error { return w.applyFormatting(ctx, result.SpreadsheetID, tabs, sheetIDs) })
		if err != nil {
			w.logger.Warn("Failed to format spreadsheet", "spreadsheet_id", result.SpreadsheetID, "error", err)
		}
	}

	w.logger.Info("Report exported to Google Sheets",
		"run_id", rep.RunID,
		"spreadsheet_id", result.SpreadsheetID,
		"url", result.URL)
	return result, nil
}

// prepareSpreadsheet returns the target spreadsheet and the sheet id of
// every tab, creating whatever does not exist yet.
func (w *Writer) prepareSpreadsheet(ctx context.Context, tabs []Tab) (*Result, map[string]int64, error) {
	if w.config.SpreadsheetID == "" {
		spreadsheet := &sheets.Spreadsheet{
			Properties: &sheets.SpreadsheetProperties{
				Title:    w.config.SpreadsheetName,
				TimeZone: w.config.TimeZone,
			},
		}
		for _, t := range tabs {
			spreadsheet.Sheets = append(spreadsheet.Sheets, &sheets.Sheet{
				Properties: &sheets.SheetProperties{Title: t.Title},
			})
		}

		created, err := w.service.Spreadsheets.Create(spreadsheet).Context(ctx).Do()
		if err != nil {
			return nil, nil, classify(err)
		}
		w.logger.Info("Created spreadsheet", "id", created.SpreadsheetId, "url", created.SpreadsheetUrl)
		return &Result{SpreadsheetID: created.SpreadsheetId, URL: created.SpreadsheetUrl}, sheetIDsOf(created), nil
	}

	existing, err := w.service.Spreadsheets.Get(w.config.SpreadsheetID).Context(ctx).Do()
	if err != nil {
		return nil, nil, fmt.Errorf("unable to access spreadsheet %s: %w", w.config.SpreadsheetID, classify(err))
	}
	ids := sheetIDsOf(existing)

	var adds []*sheets.Request
	for _, t := range tabs {
		if _, ok := ids[t.Title]; !ok {
			adds = append(adds, &sheets.Request{
				AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: t.Title}},
			})
		}
	}
	if len(adds) > 0 {
		resp, err := w.service.Spreadsheets.BatchUpdate(existing.SpreadsheetId, &sheets.BatchUpdateSpreadsheetRequest{
			Requests: adds,
		}).Context(ctx).Do()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to add tabs: %w", classify(err))
		}
		for _, reply := range resp.Replies {
			if reply.AddSheet != nil && reply.AddSheet.Properties != nil {
				ids[reply.AddSheet.Properties.Title] = reply.AddSheet.Properties.SheetId
			}
		}
	}

	return &Result{SpreadsheetID: existing.SpreadsheetId, URL: existing.SpreadsheetUrl}, ids, nil
}

func (w *Writer) writeValues(ctx context.Context, spreadsheetID string, tabs []Tab) error {
	ranges := make([]string, 0, len(tabs))
	data := make([]*sheets.ValueRange, 0, len(tabs))
	for _, t := range tabs {
		ranges = append(ranges, tabRange(t.Title, "A:Z"))
		data = append(data, &sheets.ValueRange{Range: tabRange(t.Title, "A1"), Values: t.Rows})
	}

	if _, err := w.service.Spreadsheets.Values.BatchClear(spreadsheetID, &sheets.BatchClearValuesRequest{
		Ranges: ranges,
	}).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to clear tabs: %w", classify(err))
	}

	resp, err := w.service.Spreadsheets.Values.BatchUpdate(spreadsheetID, &sheets.BatchUpdateValuesRequest{
		ValueInputOption: "RAW",
		Data:             data,
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to write values: %w", classify(err))
	}

	w.logger.Debug("Wrote report values", "spreadsheet_id", spreadsheetID, "cells", resp.TotalUpdatedCells)
	return nil
}

func (w *Writer) applyFormatting(ctx context.Context, spreadsheetID string, tabs []Tab, sheetIDs map[string]int64) error {
	var requests []*sheets.Request
	for _, t := range tabs {
		id, ok := sheetIDs[t.Title]
		if !ok {
			continue
		}
		for _, row := range t.HeaderRows {
			requests = append(requests, &sheets.Request{
				RepeatCell: &sheets.RepeatCellRequest{
					Range: &sheets.GridRange{
						SheetId:       id,
						StartRowIndex: int64(row),
						EndRowIndex:   int64(row + 1),
					},
					Cell: &sheets.CellData{
						UserEnteredFormat: &sheets.CellFormat{
							TextFormat: &sheets.TextFormat{Bold: true},
						},
					},
					Fields: "userEnteredFormat.textFormat.bold",
				},
			})
		}
		requests = append(requests,
			&sheets.Request{
				UpdateSheetProperties: &sheets.UpdateSheetPropertiesRequest{
					Properties: &sheets.SheetProperties{
						SheetId:        id,
						GridProperties: &sheets.GridProperties{FrozenRowCount: 1},
					},
					Fields: "gridProperties.frozenRowCount",
				},
			},
			&sheets.Request{
				AutoResizeDimensions: &sheets.AutoResizeDimensionsRequest{
					Dimensions: &sheets.DimensionRange{
						SheetId:    id,
						Dimension:  "COLUMNS",
						StartIndex: 0,
						EndIndex:   8,
					},
				},
			},
		)
	}
	if len(requests) == 0 {
		return nil
	}

	_, err := w.service.Spreadsheets.BatchUpdate(spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: requests,
	}).Context(ctx).Do()
	return classify(err)
}

func (w *Writer) retry(ctx context.Context, op func() error) error {
	return common.WithRetry(ctx, op, common.RetryOptions{
		MaxAttempts:  w.config.RetryAttempts,
		InitialDelay: w.config.RetryDelay,
	})
}

// createSheetsService creates a Google Sheets API service.
func createSheetsService(ctx context.Context, config Config) (*sheets.Service, error) {
	var tokenSource oauth2.TokenSource

	if config.ServiceAccountPath != "" {
		jsonKey, err := os.ReadFile(config.ServiceAccountPath)
		if err != nil {
			return nil, fmt.Errorf("unable to read service account key file: %w", err)
		}
		jwtConfig, err := google.JWTConfigFromJSON(jsonKey, sheets.SpreadsheetsScope)
		if err != nil {
			return nil, fmt.Errorf("unable to parse service account key: %w", err)
		}
		tokenSource = jwtConfig.TokenSource(ctx)
	} else {
		oauthConfig := &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{sheets.SpreadsheetsScope},
		}
		tokenSource = oauthConfig.TokenSource(ctx, &oauth2.Token{
			RefreshToken: config.RefreshToken,
			TokenType:    "Bearer",
		})
	}

	return sheets.NewService(ctx, option.WithHTTPClient(oauth2.NewClient(ctx, tokenSource)))
}

func sheetIDsOf(s *sheets.Spreadsheet) map[string]int64 {
	ids := make(map[string]int64, len(s.Sheets))
	for _, sh := range s.Sheets {
		if sh.Properties != nil {
			ids[sh.Properties.Title] = sh.Properties.SheetId
		}
	}
	return ids
}

// tabRange quotes a tab title for A1 notation.
func tabRange(title, cells string) string {
	return fmt.Sprintf("'%s'!%s", title, cells)
}

// classify marks API failures retryable when the service is throttling or
// failing server-side.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return &common.RetryableError{Err: err}
	}
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return &common.RetryableError{Err: err, Retryable: true}
	}
	switch {
	case apiErr.Code == http.StatusTooManyRequests:
		return &common.RetryableError{Err: fmt.Errorf("%w: %w", common.ErrRateLimit, err), Retryable: true}
	case apiErr.Code >= 500:
		return &common.RetryableError{Err: err, Retryable: true}
	default:
		return &common.RetryableError{Err: err}
	}
}
