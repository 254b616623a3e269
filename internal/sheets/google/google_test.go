package google

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"dosmangos/internal/core"
)

type fakeSheet struct {
	id    int64
	title string
	rows  [][]string
}

// fakeSheets serves the subset of the Sheets v4 REST API the client uses.
type fakeSheets struct {
	mu     sync.Mutex
	sheets []*fakeSheet
	nextID int64
}

func (f *fakeSheets) sheet(title string) *fakeSheet {
	for _, s := range f.sheets {
		if s.title == title {
			return s
		}
	}
	return nil
}

func splitRange(r string) (string, int) {
	i := strings.LastIndex(r, "!")
	title := strings.ReplaceAll(strings.Trim(r[:i], "'"), "''", "'")
	cells := r[i+1:]
	start := strings.SplitN(cells, ":", 2)[0]
	digits := strings.TrimLeft(start, "ABCDEFGHIJKLMNOPQRSTUVWXYZ")
	row, _ := strconv.Atoi(digits)
	return title, row
}

func toRow(values []any) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = fmt.Sprint(v)
	}
	return out
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/v4/spreadsheets/")
	switch {
	case strings.HasSuffix(path, ":batchUpdate"):
		var req gsheet.BatchUpdateSpreadsheetRequest
		json.NewDecoder(r.Body).Decode(&req)
		resp := gsheet.BatchUpdateSpreadsheetResponse{}
		for _, q := range req.Requests {
			reply := &gsheet.Response{}
			switch {
			case q.AddSheet != nil:
				f.nextID++
				s := &fakeSheet{id: f.nextID, title: q.AddSheet.Properties.Title}
				f.sheets = append(f.sheets, s)
				reply.AddSheet = &gsheet.AddSheetResponse{Properties: &gsheet.SheetProperties{SheetId: s.id, Title: s.title}}
			case q.DeleteDimension != nil:
				dr := q.DeleteDimension.Range
				for _, s := range f.sheets {
					if s.id == dr.SheetId && int(dr.EndIndex) <= len(s.rows) {
						s.rows = append(s.rows[:dr.StartIndex], s.rows[dr.EndIndex:]...)
					}
				}
			}
			resp.Replies = append(resp.Replies, reply)
		}
		json.NewEncoder(w).Encode(resp)

	case strings.Contains(path, "/values/"):
		rng := path[strings.Index(path, "/values/")+len("/values/"):]
		appendCall := strings.HasSuffix(rng, ":append")
		rng = strings.TrimSuffix(rng, ":append")
		title, row := splitRange(rng)
		s := f.sheet(title)
		if s == nil {
			http.Error(w, `{"error":{"code":400,"message":"Unable to parse range"}}`, http.StatusBadRequest)
			return
		}
		switch {
		case r.Method == http.MethodGet:
			vals := make([][]any, len(s.rows))
			for i, row := range s.rows {
				for _, c := range row {
					vals[i] = append(vals[i], c)
				}
			}
			json.NewEncoder(w).Encode(gsheet.ValueRange{Range: rng, Values: vals})
		case appendCall:
			var vr gsheet.ValueRange
			json.NewDecoder(r.Body).Decode(&vr)
			for _, v := range vr.Values {
				s.rows = append(s.rows, toRow(v))
			}
			n := len(s.rows)
			json.NewEncoder(w).Encode(gsheet.AppendValuesResponse{
				Updates: &gsheet.UpdateValuesResponse{UpdatedRange: fmt.Sprintf("'%s'!A%d:I%d", title, n, n)},
			})
		default:
			var vr gsheet.ValueRange
			json.NewDecoder(r.Body).Decode(&vr)
			for len(s.rows) < row {
				s.rows = append(s.rows, nil)
			}
			s.rows[row-1] = toRow(vr.Values[0])
			json.NewEncoder(w).Encode(gsheet.UpdateValuesResponse{UpdatedRange: rng})
		}

	default:
		ss := gsheet.Spreadsheet{}
		for _, s := range f.sheets {
			ss.Sheets = append(ss.Sheets, &gsheet.Sheet{Properties: &gsheet.SheetProperties{SheetId: s.id, Title: s.title}})
		}
		json.NewEncoder(w).Encode(ss)
	}
}

func (f *fakeSheets) rows(title string) [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s := f.sheet(title); s != nil {
		return s.rows
	}
	return nil
}

func newTestClient(t *testing.T) (*Client, *fakeSheets) {
	t.Helper()
	fake := &fakeSheets{}
	// An unrelated sheet the client must leave alone.
	fake.nextID = 1
	fake.sheets = append(fake.sheets, &fakeSheet{id: 1, title: "Notes", rows: [][]string{{"hello"}}})
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	svc, err := gsheet.NewService(context.Background(),
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatal(err)
	}
	return New(svc, "sheet-id", "", nil), fake
}

func sampleTx(at time.Time) core.Transaction {
	return core.Transaction{
		ID:          uuid.New(),
		CreatedAt:   at,
		Description: "Groceries",
		Value:       core.Money{Minor: -4550, Currency: "USD"},
		Category:    "food",
		Tags:        []string{"weekly", "market"},
		Location:    core.NewLocation(core.Coordinate{Latitude: -34.6, Longitude: -58.38}, "Buenos Aires", "ar"),
	}
}

func TestUpsertCreatesYearSheetAndAppends(t *testing.T) {
	c, fake := newTestClient(t)
	tx := sampleTx(time.Date(2024, 11, 1, 15, 0, 0, 0, time.UTC))

	ref, err := c.Upsert(context.Background(), tx)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(ref, "A2:I2") {
		t.Errorf("ref = %q, want row 2", ref)
	}
	rows := fake.rows("2024 Transactions")
	if len(rows) != 2 || rows[0][0] != "ID" {
		t.Fatalf("rows = %v", rows)
	}
	want := []string{tx.ID.String(), "2024-11-01", "Groceries", "-45.50", "USD", "food", "weekly, market", "Buenos Aires", "AR"}
	if strings.Join(rows[1], "|") != strings.Join(want, "|") {
		t.Errorf("row = %v, want %v", rows[1], want)
	}
}

func TestUpsertUpdatesInPlace(t *testing.T) {
	c, fake := newTestClient(t)
	ctx := context.Background()
	first := sampleTx(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	second := sampleTx(time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC))
	for _, tx := range []core.Transaction{first, second} {
		if _, err := c.Upsert(ctx, tx); err != nil {
			t.Fatal(err)
		}
	}

	first.Description = "Groceries and wine"
	ref, err := c.Upsert(ctx, first)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(ref, "!A2:I2") {
		t.Errorf("ref = %q", ref)
	}
	rows := fake.rows("2024 Transactions")
	if len(rows) != 3 || rows[1][2] != "Groceries and wine" || rows[2][0] != second.ID.String() {
		t.Errorf("rows = %v", rows)
	}
}

func TestUpsertMovesRowAcrossYears(t *testing.T) {
	c, fake := newTestClient(t)
	ctx := context.Background()
	tx := sampleTx(time.Date(2024, 12, 31, 23, 0, 0, 0, time.UTC))
	if _, err := c.Upsert(ctx, tx); err != nil {
		t.Fatal(err)
	}
	tx.CreatedAt = time.Date(2025, 1, 1, 1, 0, 0, 0, time.UTC)
	if _, err := c.Upsert(ctx, tx); err != nil {
		t.Fatal(err)
	}
	if rows := fake.rows("2024 Transactions"); len(rows) != 1 {
		t.Errorf("2024 rows = %v, want header only", rows)
	}
	if rows := fake.rows("2025 Transactions"); len(rows) != 2 || rows[1][0] != tx.ID.String() {
		t.Errorf("2025 rows = %v", rows)
	}
}

func TestRemove(t *testing.T) {
	c, fake := newTestClient(t)
	ctx := context.Background()
	keep := sampleTx(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	drop := sampleTx(time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC))
	for _, tx := range []core.Transaction{drop, keep} {
		if _, err := c.Upsert(ctx, tx); err != nil {
			t.Fatal(err)
		}
	}

	if err := c.Remove(ctx, drop.ID); err != nil {
		t.Fatal(err)
	}
	rows := fake.rows("2024 Transactions")
	if len(rows) != 2 || rows[1][0] != keep.ID.String() {
		t.Errorf("rows = %v", rows)
	}
	if err := c.Remove(ctx, uuid.New()); err != nil {
		t.Errorf("removing unknown id: %v", err)
	}
	if got := fake.rows("Notes"); len(got) != 1 {
		t.Errorf("unrelated sheet touched: %v", got)
	}
}

func TestUpsertValidates(t *testing.T) {
	c := &Client{spreadsheetID: "test"}
	tx := sampleTx(time.Now())
	tx.Description = ""
	if _, err := c.Upsert(context.Background(), tx); !core.IsValidationError(err) {
		t.Errorf("err = %v, want validation error", err)
	}
	if _, err := c.Upsert(context.Background(), sampleTx(time.Now())); err == nil {
		t.Error("nil service accepted")
	}
}

func TestYearPrefixedName(t *testing.T) {
	tests := []struct {
		baseName string
		year     int
		expected string
	}{
		{"Transactions", 2025, "2025 Transactions"},
		{"", 2023, ""},
		{"Shared Ledger", 2022, "2022 Shared Ledger"},
		{"2025 Already Prefixed", 2024, "2025 Already Prefixed"},
	}
	for _, tt := range tests {
		if got := yearPrefixedName(tt.baseName, tt.year); got != tt.expected {
			t.Errorf("yearPrefixedName(%q, %d) = %q, want %q", tt.baseName, tt.year, got, tt.expected)
		}
	}
}

func TestSheetYear(t *testing.T) {
	tests := []struct {
		title, base string
		year        int
		ok          bool
	}{
		{"2024 Transactions", "Transactions", 2024, true},
		{"2024 transactions", "Transactions", 2024, true},
		{"2024 Dashboard", "Transactions", 0, false},
		{"Transactions", "Transactions", 0, false},
		{"1800 Transactions", "Transactions", 0, false},
		{"2025 Ledger", "2025 Ledger", 2025, true},
		{"2024 Ledger", "2025 Ledger", 0, false},
	}
	for _, tt := range tests {
		y, ok := sheetYear(tt.title, tt.base)
		if ok != tt.ok || (ok && y != tt.year) {
			t.Errorf("sheetYear(%q, %q) = %d, %v", tt.title, tt.base, y, ok)
		}
	}
}

func TestNewFromEnvRequiresConfiguration(t *testing.T) {
	t.Setenv("GOOGLE_OAUTH_CLIENT_JSON", "")
	t.Setenv("GOOGLE_OAUTH_CLIENT_FILE", "")
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_JSON", "")
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_FILE", "")
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")

	if _, err := NewFromEnv(context.Background(), "", "", nil); err == nil || err.Error() != "missing GOOGLE_SPREADSHEET_ID" {
		t.Errorf("missing id: %v", err)
	}
	if _, err := NewFromEnv(context.Background(), "id", "", nil); err == nil || !strings.Contains(err.Error(), "service account") {
		t.Errorf("missing credentials: %v", err)
	}
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_FILE", "/nonexistent/creds.json")
	if _, err := NewFromEnv(context.Background(), "id", "", nil); err == nil || !strings.Contains(err.Error(), "read service account file") {
		t.Errorf("unreadable file: %v", err)
	}
}

const testOAuthClient = `{"installed":{"client_id":"test","client_secret":"test","redirect_uris":["http://localhost"],"auth_uri":"https://accounts.google.com/o/oauth2/auth","token_uri":"https://oauth2.googleapis.com/token"}}`

func TestNewFromEnvOAuth(t *testing.T) {
	t.Setenv("GOOGLE_OAUTH_CLIENT_FILE", "")
	t.Setenv("GOOGLE_OAUTH_TOKEN_FILE", "")

	t.Setenv("GOOGLE_OAUTH_CLIENT_JSON", "invalid-json")
	t.Setenv("GOOGLE_OAUTH_TOKEN_JSON", `{"access_token":"test"}`)
	if _, err := NewFromEnv(context.Background(), "id", "", nil); err == nil || !strings.Contains(err.Error(), "oauth config") {
		t.Errorf("bad client: %v", err)
	}

	t.Setenv("GOOGLE_OAUTH_CLIENT_JSON", testOAuthClient)
	t.Setenv("GOOGLE_OAUTH_TOKEN_JSON", "")
	if _, err := NewFromEnv(context.Background(), "id", "", nil); err == nil || !strings.Contains(err.Error(), "missing oauth token") {
		t.Errorf("missing token: %v", err)
	}

	t.Setenv("GOOGLE_OAUTH_TOKEN_JSON", `{"access_token":"test","token_type":"Bearer"}`)
	c, err := NewFromEnv(context.Background(), "id", "", nil)
	if err != nil {
		t.Fatalf("NewFromEnv: %v", err)
	}
	if c.sheetBase != DefaultSheetName {
		t.Errorf("sheet base = %q", c.sheetBase)
	}
}

func TestSaveTokenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	if err := SaveToken(path, &oauth2.Token{AccessToken: "abc", RefreshToken: "def"}); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v", info.Mode().Perm())
	}

	t.Setenv("GOOGLE_OAUTH_TOKEN_JSON", "")
	t.Setenv("GOOGLE_OAUTH_TOKEN_FILE", path)
	if TokenFile() != path {
		t.Errorf("TokenFile = %q", TokenFile())
	}
	tok, err := TokenFromEnv()
	if err != nil || tok.RefreshToken != "def" {
		t.Errorf("TokenFromEnv = %+v, %v", tok, err)
	}
}
