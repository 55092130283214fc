package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alejandrodnm/kalshibot/internal/domain"
	"github.com/olekukonko/tablewriter"
)

// Console implements ports.Notifier.
type Console struct {
	out   io.Writer
	table bool
}

// NewConsole creates a notifier that writes to stdout.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table}
}

// NewConsoleWriter creates a notifier for tests.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table}
}

// NotifyCycle prints the cycle in the configured mode.
func (c *Console) NotifyCycle(_ context.Context, r domain.CycleReport) error {
	if c.table {
		c.printFull(r)
	} else {
		c.printCompact(r)
	}
	return nil
}

// printCompact prints one summary line plus one line per closed trade.
func (c *Console) printCompact(r domain.CycleReport) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s open:%d exp:$%.2f unreal:%s real:%s eq:$%.2f W/L:%d/%d",
		r.At.Format("15:04:05"), strings.ToUpper(r.Mode), len(r.Marks), r.Exposure,
		signed(r.Unrealized), signed(r.Realized), r.Equity, r.Wins, r.Losses)
	if r.ExitsPlaced > 0 {
		fmt.Fprintf(&sb, " exits:%d", r.ExitsPlaced)
	}
	if r.ReconcileSkip {
		sb.WriteString(" (reconcile skipped)")
	}
	fmt.Fprintln(c.out, sb.String())

	for _, t := range r.Closed {
		fmt.Fprintf(c.out, "  closed %s %s x%d %.2f→%.2f %s (%s)\n",
			compactName(t.MarketID, 30), strings.ToUpper(string(t.Side)), t.Quantity,
			t.EntryPrice, t.ExitPrice, signed(t.RealizedPnL), t.Reason)
	}
}

// printFull prints the open positions table, closed trades and totals.
func (c *Console) printFull(r domain.CycleReport) {
	fmt.Fprintf(c.out, "\n[%s] %s cycle: %d open, %d closed, %d exits placed\n",
		r.At.Format("15:04:05"), strings.ToUpper(r.Mode), len(r.Marks), len(r.Closed), r.ExitsPlaced)

	if len(r.Marks) > 0 {
		table := tablewriter.NewWriter(c.out)
		table.Header("#", "Market", "Side", "Qty", "Entry", "Mark", "Unreal", "SL", "TP", "State")
		for i, m := range r.Marks {
			p := m.Position
			table.Append(
				fmt.Sprintf("%d", i+1),
				truncate(p.MarketID, 32),
				strings.ToUpper(string(p.Side)),
				fmt.Sprintf("%d", p.Quantity),
				fmt.Sprintf("%.2f", p.Entry()),
				priceLabel(m.Price),
				signed(m.Unrealized),
				priceLabel(p.StopLoss),
				priceLabel(p.TakeProfit),
				state(p),
			)
		}
		table.Render()
	}

	if len(r.Closed) > 0 {
		table := tablewriter.NewWriter(c.out)
		table.Header("Closed", "Side", "Qty", "Entry", "Exit", "PnL", "Reason")
		for _, t := range r.Closed {
			table.Append(
				truncate(t.MarketID, 32),
				strings.ToUpper(string(t.Side)),
				fmt.Sprintf("%d", t.Quantity),
				fmt.Sprintf("%.2f", t.EntryPrice),
				fmt.Sprintf("%.2f", t.ExitPrice),
				signed(t.RealizedPnL),
				string(t.Reason),
			)
		}
		table.Render()
	}

	fmt.Fprintf(c.out, "  Exposure $%.2f | Unrealized %s | Realized %s | Equity $%.2f | W/L %d/%d\n",
		r.Exposure, signed(r.Unrealized), signed(r.Realized), r.Equity, r.Wins, r.Losses)
	for _, w := range r.Warnings {
		fmt.Fprintf(c.out, "  ⚠ %s\n", w)
	}
}

func state(p domain.Position) string {
	if p.ClosingInProgress {
		return "closing:" + string(p.ExitReason)
	}
	return "open"
}

func priceLabel(p *float64) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *p)
}

func signed(v float64) string {
	if v < 0 {
		return fmt.Sprintf("-$%.2f", -v)
	}
	return fmt.Sprintf("+$%.2f", v)
}

// truncate cuts s to max runes, adding "..." when cut.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}

// compactName keeps the tail of long tickers, where the outcome suffix is.
func compactName(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return "..." + string(r[len(r)-max+3:])
}
