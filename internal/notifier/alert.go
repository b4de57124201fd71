package notifier

import (
	"fmt"
	"strings"

	"tradebot/internal/ledger"
)

// LargePnLThreshold is the absolute percentage P&L above which a closed
// trade is pushed to the notification sink.
const LargePnLThreshold = 5.0

// ShouldAlert reports whether a closed trade warrants a notification.
func ShouldAlert(rec ledger.TradeRecord) bool {
	pct := rec.PnLPercent
	if pct < 0 {
		pct = -pct
	}
	return pct > LargePnLThreshold
}

// FormatTradeAlert renders the outbound message for a large close.
func FormatTradeAlert(rec ledger.TradeRecord) string {
	outcome := "LOSS"
	if rec.PnL > 0 {
		outcome = "WIN"
	}
	return fmt.Sprintf("Significant trade closed\n%s %s %s\nP&L: $%.2f (%.2f%%)\nReason: %s",
		outcome, rec.Symbol, strings.ToUpper(string(rec.Side)), rec.PnL, rec.PnLPercent, rec.Reason)
}
