package observer

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/riskflow/internal/types"
)

// ReplaySource replays recorded market events in order.
type ReplaySource struct {
	mu     sync.Mutex
	events []types.MarketEvent
	pos    int
	pace   time.Duration
}

// NewReplaySource creates a source over events. A positive pace waits that
// long before each event after the first.
func NewReplaySource(events []types.MarketEvent, pace time.Duration) *ReplaySource {
	return &ReplaySource{
		events: events,
		pace:   pace,
	}
}

// LoadReplaySource reads a CSV file into a ReplaySource. symbol is used for
// rows of files without a symbol column.
func LoadReplaySource(path, symbol string, pace time.Duration) (*ReplaySource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	events, err := ParseCSV(file, symbol)
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: %s has no usable rows", types.ErrInvalidData, path)
	}
	return NewReplaySource(events, pace), nil
}

// Next returns the next recorded event.
func (s *ReplaySource) Next(ctx context.Context) (types.MarketEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pos >= len(s.events) {
		return types.MarketEvent{}, fmt.Errorf("replay: %w", types.ErrSourceExhausted)
	}

	if s.pace > 0 && s.pos > 0 {
		timer := time.NewTimer(s.pace)
		select {
		case <-ctx.Done():
			timer.Stop()
			return types.MarketEvent{}, ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return types.MarketEvent{}, err
	}

	event := s.events[s.pos]
	s.pos++
	return event, nil
}

// Name returns the source identifier.
func (s *ReplaySource) Name() string {
	return "replay"
}

// Len returns the number of loaded events.
func (s *ReplaySource) Len() int {
	return len(s.events)
}

// Remaining returns how many events have not been replayed yet.
func (s *ReplaySource) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events) - s.pos
}

// Rewind restarts the replay from the first event.
func (s *ReplaySource) Rewind() {
	s.mu.Lock()
	s.pos = 0
	s.mu.Unlock()
}

// ParseCSV parses market data from a CSV reader.
// Supports formats:
// - timestamp,open,high,low,close,volume
// - symbol,timestamp,open,high,low,close,volume (header row required)
//
// Rows that cannot be parsed are skipped.
func ParseCSV(r io.Reader, symbol string) ([]types.MarketEvent, error) {
	reader := csv.NewReader(bufio.NewReader(r))
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	var events []types.MarketEvent
	lineNum := 0
	withSymbol := false

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		lineNum++

		if lineNum == 1 && isHeader(record) {
			withSymbol = strings.EqualFold(strings.TrimSpace(record[0]), "symbol")
			continue
		}

		rowSymbol := symbol
		if withSymbol {
			if len(record) == 0 {
				continue
			}
			rowSymbol = strings.ToUpper(strings.TrimSpace(record[0]))
			record = record[1:]
		}

		if len(record) < 5 || rowSymbol == "" {
			continue
		}

		event, err := parseRecord(record, rowSymbol)
		if err != nil {
			continue
		}

		events = append(events, event)
	}

	return events, nil
}

// parseRecord parses a single CSV record into a MarketEvent.
func parseRecord(record []string, symbol string) (types.MarketEvent, error) {
	var event types.MarketEvent
	event.Symbol = symbol

	ts, err := parseTimestamp(record[0])
	if err != nil {
		return event, fmt.Errorf("parse timestamp: %w", err)
	}
	event.Timestamp = ts

	fields := []*decimal.Decimal{&event.Open, &event.High, &event.Low, &event.Close}
	names := []string{"open", "high", "low", "close"}
	for i, dst := range fields {
		v, err := decimal.NewFromString(record[i+1])
		if err != nil {
			return event, fmt.Errorf("parse %s: %w", names[i], err)
		}
		*dst = v
	}
	if !event.Close.IsPositive() {
		return event, fmt.Errorf("%w: non-positive close", types.ErrInvalidData)
	}

	// Volume is optional
	if len(record) > 5 {
		if vol, err := strconv.ParseInt(record[5], 10, 64); err == nil {
			event.Volume = vol
		}
	}

	return event, nil
}

// parseTimestamp tries multiple timestamp formats. Results are UTC.
func parseTimestamp(s string) (time.Time, error) {
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}

	formats := []string{
		time.RFC3339Nano,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04",
		"2006-01-02",
		"01/02/2006 15:04:05",
		"01/02/2006",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unknown timestamp format: %s", s)
}

// isHeader checks if a record looks like a header row.
func isHeader(record []string) bool {
	if len(record) == 0 {
		return false
	}
	headers := []string{"symbol", "timestamp", "time", "date", "datetime", "open", "high", "low", "close"}
	first := strings.ToLower(strings.TrimSpace(record[0]))
	for _, h := range headers {
		if first == h {
			return true
		}
	}
	return false
}
