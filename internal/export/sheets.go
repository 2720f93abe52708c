// Package export appends finished collection runs to a Google Sheets run log.
// The sheet is operator-facing bookkeeping; failures here never affect job
// outcomes, the engine logs and moves on.
package export

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/jobpulse/scraper-agent/internal/config"
	"github.com/jobpulse/scraper-agent/internal/models"
	"github.com/jobpulse/scraper-agent/pkg/logger"
	"github.com/jobpulse/scraper-agent/pkg/ratelimit"
)

// RunLogColumns defines the column headers for the run-log sheet
var RunLogColumns = []string{
	"Job ID",
	"Config ID",
	"Source",
	"Search Term",
	"Location",
	"State",
	"Scheduled",
	"Origin",
	"Jobs Found",
	"Jobs Stored",
	"Status",
	"Started At",
	"Completed At",
}

// SheetsExporter appends one row per finished job to a spreadsheet
type SheetsExporter struct {
	service       *sheets.Service
	spreadsheetID string
	sheetName     string
	limiter       *ratelimit.MultiLimiter
	log           *logger.Logger
}

// NewSheetsExporter creates the exporter. Returns (nil, nil) when export is
// disabled so callers can wire it unconditionally.
func NewSheetsExporter(cfg config.ExportConfig, limiter *ratelimit.MultiLimiter, log *logger.Logger) (*SheetsExporter, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	ctx := context.Background()

	var srv *sheets.Service
	var err error

	// Service account JSON takes priority so the key can be injected via env
	if cfg.ServiceAccountJSON != "" {
		srv, err = sheets.NewService(ctx, option.WithCredentialsJSON([]byte(cfg.ServiceAccountJSON)))
	} else if cfg.CredentialsFile != "" {
		srv, err = sheets.NewService(ctx, option.WithCredentialsFile(cfg.CredentialsFile))
	} else {
		return nil, fmt.Errorf("no Google credentials provided: set credentials_file or service_account_json")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	sheetName := cfg.SheetName
	if sheetName == "" {
		sheetName = "Runs"
	}

	return &SheetsExporter{
		service:       srv,
		spreadsheetID: cfg.SpreadsheetID,
		sheetName:     sheetName,
		limiter:       limiter,
		log:           log.WithComponent("sheets-export"),
	}, nil
}

// InitializeSheet creates the run-log sheet and headers if they don't exist
func (e *SheetsExporter) InitializeSheet(ctx context.Context) error {
	if err := e.ensureSheetExists(ctx); err != nil {
		return err
	}

	readRange := fmt.Sprintf("%s!A1:M1", e.sheetName)
	resp, err := e.service.Spreadsheets.Values.Get(e.spreadsheetID, readRange).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to read sheet: %w", err)
	}

	if len(resp.Values) == 0 {
		e.log.Info().Msg("Initializing run-log sheet with headers")
		return e.writeHeaders(ctx)
	}
	return nil
}

// ensureSheetExists creates the sheet tab if it doesn't exist
func (e *SheetsExporter) ensureSheetExists(ctx context.Context) error {
	spreadsheet, err := e.service.Spreadsheets.Get(e.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to get spreadsheet: %w", err)
	}

	for _, sheet := range spreadsheet.Sheets {
		if sheet.Properties.Title == e.sheetName {
			return nil
		}
	}

	e.log.Info().Str("sheet", e.sheetName).Msg("Creating run-log sheet")
	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{
			{
				AddSheet: &sheets.AddSheetRequest{
					Properties: &sheets.SheetProperties{
						Title: e.sheetName,
					},
				},
			},
		},
	}
	if _, err := e.service.Spreadsheets.BatchUpdate(e.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	return nil
}

// writeHeaders writes column headers to the first row
func (e *SheetsExporter) writeHeaders(ctx context.Context) error {
	var headerRow []interface{}
	for _, col := range RunLogColumns {
		headerRow = append(headerRow, col)
	}

	writeRange := fmt.Sprintf("%s!A1", e.sheetName)
	valueRange := &sheets.ValueRange{
		Values: [][]interface{}{headerRow},
	}

	_, err := e.service.Spreadsheets.Values.Update(e.spreadsheetID, writeRange, valueRange).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to write headers: %w", err)
	}
	return nil
}

// AppendRun appends one finished job to the run log
func (e *SheetsExporter) AppendRun(ctx context.Context, job *models.Job) error {
	if err := e.limiter.Wait(ctx, ratelimit.LimiterSheets); err != nil {
		return err
	}

	configID := ""
	if job.ConfigID != nil {
		configID = fmt.Sprintf("%d", *job.ConfigID)
	}

	row := []interface{}{
		job.ID,
		configID,
		job.Source,
		job.SearchTerm,
		job.Location,
		string(job.State),
		job.Scheduled,
		string(job.Origin),
		job.JobsFound,
		job.JobsStored,
		job.StatusMessage,
		job.StartedAt.Format(time.RFC3339),
		formatTime(job.CompletedAt),
	}

	appendRange := fmt.Sprintf("%s!A:M", e.sheetName)
	valueRange := &sheets.ValueRange{
		Values: [][]interface{}{row},
	}

	_, err := e.service.Spreadsheets.Values.Append(e.spreadsheetID, appendRange, valueRange).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to append run: %w", err)
	}

	e.log.Debug().Str("job_id", job.ID).Msg("Run exported to sheet")
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
