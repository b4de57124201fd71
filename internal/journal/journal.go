package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// OpenRecord is written when a position is opened.
type OpenRecord struct {
	Action        string            `json:"action"`
	Time          time.Time         `json:"time"`
	OrderID       string            `json:"order_id"`
	Symbol        string            `json:"symbol"`
	Strategy      string            `json:"strategy"`
	Side          string            `json:"side"`
	OpenPrice     float64           `json:"open_price"`
	Quantity      float64           `json:"quantity"`
	ATRAtEntry    float64           `json:"atr_at_entry"`
	SignalDetails map[string]string `json:"signal_details,omitempty"`
}

// CloseRecord is written when a position is closed.
type CloseRecord struct {
	Action           string            `json:"action"`
	Time             time.Time         `json:"time"`
	OrderID          string            `json:"order_id"`
	Symbol           string            `json:"symbol"`
	Strategy         string            `json:"strategy"`
	Side             string            `json:"side"`
	ClosePrice       float64           `json:"close_price"`
	CloseTime        time.Time         `json:"close_time"`
	PnLAmount        float64           `json:"pnl_amount"`
	PnLPercent       float64           `json:"pnl_percent"`
	Reason           string            `json:"reason_to_close"`
	IndicatorsAtExit map[string]string `json:"indicator_details_at_close,omitempty"`
}

// Writer appends one JSON object per line to the journal file. The
// journal is the system of record for audit outside the running process;
// the in-memory ledger is intentionally ephemeral.
type Writer struct {
	mu   sync.Mutex
	file *os.File
}

func NewWriter(path string) (*Writer, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("journal: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	return &Writer{file: f}, nil
}

func (w *Writer) LogOpen(rec OpenRecord) error {
	rec.Action = "OPEN"
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}
	return w.write(rec)
}

func (w *Writer) LogClose(rec CloseRecord) error {
	rec.Action = "CLOSE"
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}
	return w.write(rec)
}

func (w *Writer) write(rec any) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = w.file.Write(append(line, '\n'))
	if err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	return nil
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
