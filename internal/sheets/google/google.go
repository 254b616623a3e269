// Package google exports transactions to a Google Sheets spreadsheet, one
// sheet per year named "<year> <base>".
package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	gsheet "google.golang.org/api/sheets/v4"

	"dosmangos/internal/cache"
	"dosmangos/internal/core"
	"dosmangos/internal/currency"
	"dosmangos/internal/log"
	ports "dosmangos/internal/sheets"
)

const (
	DefaultSheetName = "Transactions"
	valueInput       = "USER_ENTERED"
	lastColumn       = "I"
	sheetCacheTTL    = 10 * time.Minute
)

var header = []any{"ID", "Date", "Description", "Amount", "Currency", "Category", "Tags", "City", "Country"}

var _ ports.TransactionExporter = (*Client)(nil)

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetBase     string
	logger        *log.Logger

	// title -> sheetId for the year sheets of this spreadsheet
	sheetIDs *cache.LRUCache[int64]
}

// NewFromEnv creates a client from a user OAuth token (GOOGLE_OAUTH_CLIENT_*
// plus GOOGLE_OAUTH_TOKEN_*) or from service account credentials found in
// GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE or
// GOOGLE_APPLICATION_CREDENTIALS.
func NewFromEnv(ctx context.Context, spreadsheetID, sheetBase string, logger *log.Logger) (*Client, error) {
	if strings.TrimSpace(spreadsheetID) == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	opts, err := clientOptions(ctx)
	if err != nil {
		return nil, err
	}
	svc, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return New(svc, spreadsheetID, sheetBase, logger), nil
}

func New(svc *gsheet.Service, spreadsheetID, sheetBase string, logger *log.Logger) *Client {
	if strings.TrimSpace(sheetBase) == "" {
		sheetBase = DefaultSheetName
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &Client{
		svc:           svc,
		spreadsheetID: strings.TrimSpace(spreadsheetID),
		sheetBase:     strings.TrimSpace(sheetBase),
		logger:        logger.WithComponent(log.ComponentSheets),
		sheetIDs:      cache.NewLRUCache[int64](64, sheetCacheTTL),
	}
}

func credentialsFromEnv() ([]byte, error) {
	if js := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON")); js != "" {
		return []byte(js), nil
	}
	path := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if path == "" {
		path = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	if path == "" {
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read service account file: %w", err)
	}
	return data, nil
}

// Upsert writes t to the sheet for its year, replacing the existing row
// with the same id. A row found under another year is moved.
func (c *Client) Upsert(ctx context.Context, t core.Transaction) (string, error) {
	if err := t.Validate(); err != nil {
		return "", fmt.Errorf("validation failed: %w", err)
	}
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	target := yearPrefixedName(c.sheetBase, t.CreatedAt.UTC().Year())
	values := &gsheet.ValueRange{Values: [][]any{rowValues(t)}}

	found, err := c.locate(ctx, t.ID)
	if err != nil {
		return "", err
	}
	if found != nil && found.title == target {
		rng := fmt.Sprintf("%s!A%d:%s%d", quote(target), found.row, lastColumn, found.row)
		if _, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, values).
			ValueInputOption(valueInput).Context(ctx).Do(); err != nil {
			return "", fmt.Errorf("update %s: %w", rng, err)
		}
		return rng, nil
	}
	if found != nil {
		if err := c.deleteRow(ctx, found); err != nil {
			return "", err
		}
	}

	if _, err := c.ensureSheet(ctx, target); err != nil {
		return "", err
	}
	rng := fmt.Sprintf("%s!A:%s", quote(target), lastColumn)
	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, values).
		ValueInputOption(valueInput).InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("append to %s: %w", target, err)
	}
	if resp.Updates != nil && resp.Updates.UpdatedRange != "" {
		return resp.Updates.UpdatedRange, nil
	}
	return rng, nil
}

// Remove deletes the row for id from whichever year sheet holds it. A
// missing row is not an error.
func (c *Client) Remove(ctx context.Context, id uuid.UUID) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}
	found, err := c.locate(ctx, id)
	if err != nil {
		return err
	}
	if found == nil {
		c.logger.DebugContext(ctx, "no sheet row to remove", log.FieldTxID, id.String())
		return nil
	}
	return c.deleteRow(ctx, found)
}

type rowLocation struct {
	title   string
	sheetID int64
	row     int // 1-based
}

// locate scans the id column of every year sheet for id.
func (c *Client) locate(ctx context.Context, id uuid.UUID) (*rowLocation, error) {
	titles, err := c.yearSheets(ctx)
	if err != nil {
		return nil, err
	}
	want := id.String()
	for _, title := range titles {
		rng := fmt.Sprintf("%s!A:A", quote(title))
		resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", rng, err)
		}
		for i, row := range resp.Values {
			if len(row) > 0 && strings.EqualFold(strings.TrimSpace(fmt.Sprint(row[0])), want) {
				sheetID, _ := c.sheetIDs.Get(title)
				return &rowLocation{title: title, sheetID: sheetID, row: i + 1}, nil
			}
		}
	}
	return nil, nil
}

// yearSheets lists the sheets named "<year> <base>" and refreshes the
// title to sheetId cache.
func (c *Client) yearSheets(ctx context.Context) ([]string, error) {
	ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).
		Fields("sheets.properties(sheetId,title)").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read spreadsheet: %w", err)
	}
	var titles []string
	for _, sh := range ss.Sheets {
		if sh.Properties == nil {
			continue
		}
		title := sh.Properties.Title
		if _, ok := sheetYear(title, c.sheetBase); !ok {
			continue
		}
		c.sheetIDs.Set(title, sh.Properties.SheetId)
		titles = append(titles, title)
	}
	return titles, nil
}

// ensureSheet creates the year sheet with its header row when missing.
func (c *Client) ensureSheet(ctx context.Context, title string) (int64, error) {
	if id, ok := c.sheetIDs.Get(title); ok {
		return id, nil
	}
	if _, err := c.yearSheets(ctx); err != nil {
		return 0, err
	}
	if id, ok := c.sheetIDs.Get(title); ok {
		return id, nil
	}

	resp, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			AddSheet: &gsheet.AddSheetRequest{Properties: &gsheet.SheetProperties{Title: title}},
		}},
	}).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("create sheet %s: %w", title, err)
	}
	var id int64
	if len(resp.Replies) > 0 && resp.Replies[0].AddSheet != nil && resp.Replies[0].AddSheet.Properties != nil {
		id = resp.Replies[0].AddSheet.Properties.SheetId
	}
	c.sheetIDs.Set(title, id)

	rng := fmt.Sprintf("%s!A1:%s1", quote(title), lastColumn)
	if _, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, &gsheet.ValueRange{Values: [][]any{header}}).
		ValueInputOption(valueInput).Context(ctx).Do(); err != nil {
		return 0, fmt.Errorf("write header %s: %w", title, err)
	}
	c.logger.InfoContext(ctx, "created year sheet", log.FieldSheetsRef, title)
	return id, nil
}

func (c *Client) deleteRow(ctx context.Context, loc *rowLocation) error {
	_, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			DeleteDimension: &gsheet.DeleteDimensionRequest{
				Range: &gsheet.DimensionRange{
					SheetId:    loc.sheetID,
					Dimension:  "ROWS",
					StartIndex: int64(loc.row - 1),
					EndIndex:   int64(loc.row),
				},
			},
		}},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("delete row %d of %s: %w", loc.row, loc.title, err)
	}
	return nil
}

func rowValues(t core.Transaction) []any {
	info := currency.Lookup(t.Value.Currency)
	var city, country string
	if t.Location != nil {
		if t.Location.City != nil {
			city = *t.Location.City
		}
		if t.Location.CountryCode != nil {
			country = *t.Location.CountryCode
		}
	}
	return []any{
		t.ID.String(),
		t.CreatedAt.UTC().Format("2006-01-02"),
		t.Description,
		t.Value.Major().StringFixed(int32(info.Fraction)),
		info.Code,
		t.Category,
		strings.Join(t.Tags, ", "),
		city,
		country,
	}
}

func quote(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}

// yearPrefixedName returns "<year> <base>" unless base already starts with a 4-digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if _, ok := leadingYear(base); ok {
		return base
	}
	return fmt.Sprintf("%d %s", year, base)
}

// sheetYear reports the year of a sheet named for base.
func sheetYear(title, base string) (int, bool) {
	y, ok := leadingYear(title)
	if !ok {
		return 0, false
	}
	if _, pinned := leadingYear(base); pinned {
		return y, title == base
	}
	return y, strings.EqualFold(strings.TrimSpace(title[5:]), base)
}

func leadingYear(s string) (int, bool) {
	if len(s) < 5 || s[4] != ' ' {
		return 0, false
	}
	y, err := strconv.Atoi(s[0:4])
	if err != nil || y <= 1900 || y >= 3000 {
		return 0, false
	}
	return y, true
}
