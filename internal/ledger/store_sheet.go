package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/oszuidwest/zwfm-speaktrainer/internal/types"
	"github.com/oszuidwest/zwfm-speaktrainer/internal/util"
)

const (
	graphBaseURL     = "https://graph.microsoft.com/v1.0"
	graphScope       = "https://graph.microsoft.com/.default"
	tokenURLTemplate = "https://login.microsoftonline.com/%s/oauth2/v2.0/token" //nolint:gosec // URL template, not a credential

	// Retry settings.
	maxRetries       = 3
	initialRetryWait = 1 * time.Second
	maxRetryWait     = 30 * time.Second

	// HTTP client timeout.
	httpTimeout = 30 * time.Second
)

// guidPattern matches the standard GUID format.
var guidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// SheetConfig locates an Excel workbook table through Microsoft Graph.
type SheetConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	DriveID      string
	ItemID       string // workbook drive item id
	Table        string // table name or id
}

// Validate checks that the required fields are present and well formed.
func (c *SheetConfig) Validate() error {
	if !guidPattern.MatchString(c.TenantID) {
		return fmt.Errorf("tenant ID must be a valid GUID (e.g., 12345678-1234-1234-1234-123456789abc)")
	}
	if !guidPattern.MatchString(c.ClientID) {
		return fmt.Errorf("client ID must be a valid GUID (e.g., 12345678-1234-1234-1234-123456789abc)")
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("client secret is required")
	}
	if c.DriveID == "" || c.ItemID == "" {
		return fmt.Errorf("workbook drive and item IDs are required")
	}
	if c.Table == "" {
		return fmt.Errorf("table name is required")
	}
	return nil
}

// SheetStore is a Store backed by a spreadsheet table. The first column holds
// the attempt id; the remaining columns follow recordColumns.
type SheetStore struct {
	httpClient *http.Client
	tableURL   string
	retryWait  time.Duration
}

var _ Store = (*SheetStore)(nil)

// NewSheetStore creates a store authenticated with client credentials.
func NewSheetStore(cfg SheetConfig) (*SheetStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	conf := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     fmt.Sprintf(tokenURLTemplate, cfg.TenantID),
		Scopes:       []string{graphScope},
	}

	// Token requests share the timeout so a stuck login cannot hang writes.
	baseClient := &http.Client{Timeout: httpTimeout}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, baseClient)

	return newSheetStore(conf.Client(ctx), graphBaseURL, cfg), nil
}

func newSheetStore(client *http.Client, baseURL string, cfg SheetConfig) *SheetStore {
	return &SheetStore{
		httpClient: client,
		tableURL: fmt.Sprintf("%s/drives/%s/items/%s/workbook/tables/%s",
			baseURL, url.PathEscape(cfg.DriveID), url.PathEscape(cfg.ItemID), url.PathEscape(cfg.Table)),
		retryWait: initialRetryWait,
	}
}

type sheetRow struct {
	Index  int     `json:"index"`
	Values [][]any `json:"values"`
}

type sheetRows struct {
	Value []sheetRow `json:"value"`
}

type sheetValues struct {
	Values [][]any `json:"values"`
}

func (s *SheetStore) FindByKey(ctx context.Context, id string) (*types.AttemptRecord, error) {
	rec, _, err := s.find(ctx, id)
	return rec, err
}

func (s *SheetStore) Insert(ctx context.Context, rec *types.AttemptRecord) error {
	_, _, err := s.find(ctx, rec.AttemptID)
	switch {
	case err == nil:
		return ErrDuplicate
	case !errors.Is(err, ErrNotFound):
		return err
	}

	body, err := json.Marshal(sheetValues{Values: [][]any{recordToRow(rec)}})
	if err != nil {
		return fmt.Errorf("marshal row: %w", err)
	}
	if _, err := s.doWithRetry(ctx, http.MethodPost, s.tableURL+"/rows/add", body); err != nil {
		return fmt.Errorf("add row: %w", err)
	}
	return nil
}

func (s *SheetStore) UpdateByKey(ctx context.Context, id string, patch *types.AttemptPatch) error {
	rec, index, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	patch.Apply(rec)

	body, err := json.Marshal(sheetValues{Values: [][]any{recordToRow(rec)}})
	if err != nil {
		return fmt.Errorf("marshal row: %w", err)
	}
	rowURL := fmt.Sprintf("%s/rows/itemAt(index=%d)", s.tableURL, index)
	if _, err := s.doWithRetry(ctx, http.MethodPatch, rowURL, body); err != nil {
		return fmt.Errorf("update row: %w", err)
	}
	return nil
}

func (s *SheetStore) Close() error { return nil }

// find scans the table for id and returns the record with its row index.
func (s *SheetStore) find(ctx context.Context, id string) (*types.AttemptRecord, int, error) {
	data, err := s.doWithRetry(ctx, http.MethodGet, s.tableURL+"/rows", nil)
	if err != nil {
		return nil, 0, fmt.Errorf("list rows: %w", err)
	}
	var rows sheetRows
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, 0, fmt.Errorf("decode rows: %w", err)
	}

	for _, row := range rows.Value {
		if len(row.Values) == 0 || len(row.Values[0]) == 0 {
			continue
		}
		cells := row.Values[0]
		if cellString(cells[0]) == id {
			return rowToRecord(cells), row.Index, nil
		}
	}
	return nil, 0, ErrNotFound
}

// doWithRetry sends the request with automatic retries on throttling and
// transient server errors.
func (s *SheetStore) doWithRetry(ctx context.Context, method, apiURL string, body []byte) ([]byte, error) {
	backoff := util.NewBackoff(s.retryWait, maxRetryWait)

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			if err := backoff.Wait(ctx); err != nil {
				return nil, err
			}
		}

		var reader io.Reader = http.NoBody
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, apiURL, reader)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := s.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("send request: %w", err)
			continue
		}

		respBody, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK, http.StatusCreated, http.StatusNoContent:
			return respBody, nil
		case http.StatusTooManyRequests:
			// Retry-After is honoured in integer seconds only.
			if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
				if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
					select {
					case <-time.After(time.Duration(seconds) * time.Second):
					case <-ctx.Done():
						return nil, context.Cause(ctx)
					}
				}
			}
			lastErr = fmt.Errorf("graph API rate limited (429): %s", string(respBody))
			continue
		case http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			lastErr = fmt.Errorf("graph API returned %d: %s", resp.StatusCode, string(respBody))
			continue
		default:
			return nil, fmt.Errorf("graph API error %d: %s", resp.StatusCode, string(respBody))
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func recordToRow(rec *types.AttemptRecord) []any {
	score, finalized := "", ""
	if rec.Score != nil {
		score = strconv.Itoa(*rec.Score)
	}
	if rec.FinalizedAt != nil {
		finalized = rec.FinalizedAt.UTC().Format(time.RFC3339Nano)
	}
	return []any{
		rec.AttemptID, string(rec.Status), rec.UserID, rec.ItemID, string(rec.Category), rec.TargetText,
		string(rec.MeasurementType), rec.Transcript, score, rec.Feedback, rec.MatchedText,
		rec.AudioURL, rec.LatencyMs, rec.DurationSec, rec.SentenceCount,
		rec.StructureScore, rec.ErrorStep, rec.ErrorMessage, rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		rec.UpdatedAt.UTC().Format(time.RFC3339Nano), finalized,
	}
}

func rowToRecord(cells []any) *types.AttemptRecord {
	cell := func(i int) any {
		if i < len(cells) {
			return cells[i]
		}
		return nil
	}

	rec := &types.AttemptRecord{
		AttemptID:       cellString(cell(0)),
		Status:          types.AttemptStatus(cellString(cell(1))),
		UserID:          cellString(cell(2)),
		ItemID:          cellString(cell(3)),
		Category:        types.Category(cellString(cell(4))),
		TargetText:      cellString(cell(5)),
		MeasurementType: types.MeasurementType(cellString(cell(6))),
		Transcript:      cellString(cell(7)),
		Feedback:        cellString(cell(9)),
		MatchedText:     cellString(cell(10)),
		AudioURL:        cellString(cell(11)),
		LatencyMs:       int64(cellFloat(cell(12))),
		DurationSec:     cellFloat(cell(13)),
		SentenceCount:   int(cellFloat(cell(14))),
		StructureScore:  int(cellFloat(cell(15))),
		ErrorStep:       cellString(cell(16)),
		ErrorMessage:    cellString(cell(17)),
		CreatedAt:       cellTime(cell(18)),
		UpdatedAt:       cellTime(cell(19)),
	}
	if cellString(cell(8)) != "" {
		rec.Score = types.Ptr(int(cellFloat(cell(8))))
	}
	if t := cellTime(cell(20)); !t.IsZero() {
		rec.FinalizedAt = &t
	}
	return rec
}

// cellString renders a cell value; numeric cells arrive as JSON numbers.
func cellString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

func cellFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		f, _ := strconv.ParseFloat(x, 64)
		return f
	default:
		return 0
	}
}

func cellTime(v any) time.Time {
	t, err := time.Parse(time.RFC3339Nano, cellString(v))
	if err != nil {
		return time.Time{}
	}
	return t
}
