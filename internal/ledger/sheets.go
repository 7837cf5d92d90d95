package ledger

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/dvloznov/receipt-pipeline/internal/domain"
)

// SheetsStore keeps monthly ledgers as tabs of one spreadsheet. Tab
// titles are the YYYY-MM month keys.
type SheetsStore struct {
	svc           *sheets.Service
	spreadsheetID string

	mu       sync.Mutex
	sheetIDs map[string]int64
}

// NewSheetsStore builds a ledger store over the given spreadsheet.
// Credentials come from the ambient service account unless overridden
// through opts.
func NewSheetsStore(ctx context.Context, spreadsheetID string, opts ...option.ClientOption) (*SheetsStore, error) {
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("ledger: create sheets service: %w", err)
	}
	return &SheetsStore{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		sheetIDs:      make(map[string]int64),
	}, nil
}

// EnsureMonth implements Store. First sight of a month creates the
// tab, freezes the header row and adds the review highlight. On an
// existing tab the header row is re-verified and rewritten if drifted:
// humans edit this spreadsheet, and the header is the one row the
// writer owns.
func (s *SheetsStore) EnsureMonth(ctx context.Context, monthKey string, header []string) error {
	if _, err := s.sheetID(ctx, monthKey); err == nil {
		return s.ensureHeader(ctx, monthKey, header)
	}

	addReq := &sheets.Request{
		AddSheet: &sheets.AddSheetRequest{
			Properties: &sheets.SheetProperties{
				Title: monthKey,
				GridProperties: &sheets.GridProperties{
					FrozenRowCount: 1,
				},
			},
		},
	}
	resp, err := s.svc.Spreadsheets.BatchUpdate(s.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{addReq},
	}).Context(ctx).Do()
	if err != nil {
		// Lost a race with a concurrent creator: re-resolve.
		if _, lookupErr := s.lookupSheetID(ctx, monthKey); lookupErr == nil {
			return s.ensureHeader(ctx, monthKey, header)
		}
		return fmt.Errorf("ledger: add sheet %s: %w", monthKey, err)
	}
	sheetID := resp.Replies[0].AddSheet.Properties.SheetId
	s.mu.Lock()
	s.sheetIDs[monthKey] = sheetID
	s.mu.Unlock()

	if err := s.writeHeader(ctx, monthKey, header); err != nil {
		return err
	}
	return s.addReviewHighlight(ctx, sheetID, len(header))
}

// ensureHeader rewrites an existing tab's header row when it is
// missing or no longer matches the expected columns.
func (s *SheetsStore) ensureHeader(ctx context.Context, monthKey string, header []string) error {
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, monthKey+"!A1:P1").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("ledger: read header %s: %w", monthKey, err)
	}
	if len(resp.Values) > 0 && headerMatches(resp.Values[0], header) {
		return nil
	}
	return s.writeHeader(ctx, monthKey, header)
}

func headerMatches(row []any, header []string) bool {
	if len(row) != len(header) {
		return false
	}
	for i, cell := range row {
		got, ok := cell.(string)
		if !ok || got != header[i] {
			return false
		}
	}
	return true
}

func (s *SheetsStore) writeHeader(ctx context.Context, monthKey string, header []string) error {
	cells := make([]any, len(header))
	for i, h := range header {
		cells[i] = h
	}
	_, err := s.svc.Spreadsheets.Values.Update(s.spreadsheetID, monthKey+"!A1", &sheets.ValueRange{
		Values: [][]any{cells},
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("ledger: write header %s: %w", monthKey, err)
	}
	return nil
}

// addReviewHighlight colors rows whose status column reads
// NEEDS_REVIEW so they stand out for manual triage.
func (s *SheetsStore) addReviewHighlight(ctx context.Context, sheetID int64, cols int) error {
	statusCol := string(rune('A' + domain.ColStatus))
	rule := &sheets.Request{
		AddConditionalFormatRule: &sheets.AddConditionalFormatRuleRequest{
			Rule: &sheets.ConditionalFormatRule{
				Ranges: []*sheets.GridRange{{
					SheetId:          sheetID,
					StartRowIndex:    1,
					StartColumnIndex: 0,
					EndColumnIndex:   int64(cols),
				}},
				BooleanRule: &sheets.BooleanRule{
					Condition: &sheets.BooleanCondition{
						Type: "CUSTOM_FORMULA",
						Values: []*sheets.ConditionValue{{
							UserEnteredValue: fmt.Sprintf(`=$%s2="%s"`, statusCol, domain.StatusNeedsReview),
						}},
					},
					Format: &sheets.CellFormat{
						BackgroundColor: &sheets.Color{Red: 1, Green: 0.95, Blue: 0.8},
					},
				},
			},
		},
	}
	_, err := s.svc.Spreadsheets.BatchUpdate(s.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{rule},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("ledger: add review highlight: %w", err)
	}
	return nil
}

// Entries implements Store. Formula render keeps the file link column
// readable as the formula text, which is what carries receipt identity
// for hashless rows.
func (s *SheetsStore) Entries(ctx context.Context, monthKey string) ([]Entry, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, monthKey+"!A2:P").
		ValueRenderOption("FORMULA").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("ledger: read %s: %w", monthKey, err)
	}
	entries := make([]Entry, 0, len(resp.Values))
	for _, row := range resp.Values {
		if len(row) <= domain.ColStatus {
			continue
		}
		if label, _ := cellString(row, 1); label == domain.AggregateLabel {
			continue
		}
		e := Entry{}
		e.ImageHash, _ = cellString(row, domain.ColImageHash)
		e.Status, _ = cellString(row, domain.ColStatus)
		e.Total = cellFloat(row, domain.ColTotal)
		e.FileLink, _ = cellString(row, len(domain.LedgerHeader)-1)
		entries = append(entries, e)
	}
	return entries, nil
}

// Append implements Store. USER_ENTERED lets the hyperlink formula in
// the file link column take effect.
func (s *SheetsStore) Append(ctx context.Context, monthKey string, rows [][]any) error {
	_, err := s.svc.Spreadsheets.Values.Append(s.spreadsheetID, monthKey+"!A1", &sheets.ValueRange{
		Values: rows,
	}).ValueInputOption("USER_ENTERED").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("ledger: append to %s: %w", monthKey, err)
	}
	return nil
}

// SetAggregate implements Store. The old footer rows are deleted and a
// fresh one appended, which keeps the footer last after any append.
func (s *SheetsStore) SetAggregate(ctx context.Context, monthKey string, total float64) error {
	sheetID, err := s.sheetID(ctx, monthKey)
	if err != nil {
		return err
	}

	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, monthKey+"!B:B").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("ledger: scan footer in %s: %w", monthKey, err)
	}
	var footerRows []int64
	for i, row := range resp.Values {
		if label, _ := cellString(row, 0); label == domain.AggregateLabel {
			footerRows = append(footerRows, int64(i))
		}
	}
	if len(footerRows) > 0 {
		// Delete bottom-up so earlier deletions don't shift the rest.
		reqs := make([]*sheets.Request, 0, len(footerRows))
		for i := len(footerRows) - 1; i >= 0; i-- {
			reqs = append(reqs, &sheets.Request{
				DeleteDimension: &sheets.DeleteDimensionRequest{
					Range: &sheets.DimensionRange{
						SheetId:    sheetID,
						Dimension:  "ROWS",
						StartIndex: footerRows[i],
						EndIndex:   footerRows[i] + 1,
					},
				},
			})
		}
		_, err = s.svc.Spreadsheets.BatchUpdate(s.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
			Requests: reqs,
		}).Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("ledger: drop footer in %s: %w", monthKey, err)
		}
	}

	footer := make([]any, len(domain.LedgerHeader))
	for i := range footer {
		footer[i] = ""
	}
	footer[1] = domain.AggregateLabel
	footer[domain.ColTotal] = total
	return s.Append(ctx, monthKey, [][]any{footer})
}

// sheetID resolves a month tab's numeric id, from cache when possible.
func (s *SheetsStore) sheetID(ctx context.Context, monthKey string) (int64, error) {
	s.mu.Lock()
	id, ok := s.sheetIDs[monthKey]
	s.mu.Unlock()
	if ok {
		return id, nil
	}
	return s.lookupSheetID(ctx, monthKey)
}

func (s *SheetsStore) lookupSheetID(ctx context.Context, monthKey string) (int64, error) {
	ss, err := s.svc.Spreadsheets.Get(s.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("ledger: get spreadsheet: %w", err)
	}
	for _, sh := range ss.Sheets {
		if sh.Properties.Title == monthKey {
			s.mu.Lock()
			s.sheetIDs[monthKey] = sh.Properties.SheetId
			s.mu.Unlock()
			return sh.Properties.SheetId, nil
		}
	}
	return 0, fmt.Errorf("ledger: no sheet titled %s", monthKey)
}

func cellString(row []any, i int) (string, bool) {
	if i >= len(row) {
		return "", false
	}
	s, ok := row[i].(string)
	return strings.TrimSpace(s), ok
}

func cellFloat(row []any, i int) *float64 {
	if i >= len(row) {
		return nil
	}
	switch v := row[i].(type) {
	case float64:
		return &v
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil
		}
		return &f
	default:
		return nil
	}
}

var _ Store = (*SheetsStore)(nil)
