// Package tui renders hostpulse streams in a terminal.
package tui

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"
	"golang.org/x/term"

	"hostpulse/internal/stats"
)

const (
	defaultWidth = 80
	labelWidth   = 12
	clearScreen  = "\x1b[H\x1b[2J"
)

var (
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	critStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	emptyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	titleStyle = lipgloss.NewStyle().Bold(true)
)

func styleFor(pct float64) lipgloss.Style {
	switch {
	case pct >= 90:
		return critStyle
	case pct >= 70:
		return warnStyle
	}
	return okStyle
}

// bar draws a width-cell bar followed by the percentage.
func bar(label string, pct float64, width int) string {
	cells := width - labelWidth - 8
	if cells < 10 {
		cells = 10
	}
	filled := int(pct / 100 * float64(cells))
	filled = max(0, min(cells, filled))
	return fmt.Sprintf("%-*s %s%s %6.2f%%",
		labelWidth, label,
		styleFor(pct).Render(strings.Repeat("█", filled)),
		emptyStyle.Render(strings.Repeat("░", cells-filled)),
		pct)
}

// RenderCPU draws one bar per core.
func RenderCPU(snap stats.CPUSnapshot, width int) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("CPU (%d cores)", len(snap))))
	b.WriteByte('\n')
	for i, pct := range snap {
		b.WriteString(bar(fmt.Sprintf("cpu%d", i), pct, width))
		b.WriteByte('\n')
	}
	return b.String()
}

// RenderMemory draws memory and swap usage.
func RenderMemory(snap stats.MemorySnapshot, width int) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Memory"))
	b.WriteByte('\n')
	b.WriteString(bar("mem", ratio(snap.UsedComputed, snap.Total), width))
	b.WriteString(fmt.Sprintf("  %s / %s\n", gib(snap.UsedComputed), gib(snap.Total)))
	if snap.SwapTotal > 0 {
		b.WriteString(bar("swap", ratio(snap.SwapUsed, snap.SwapTotal), width))
		b.WriteString(fmt.Sprintf("  %s / %s\n", gib(snap.SwapUsed), gib(snap.SwapTotal)))
	}
	return b.String()
}

func ratio(part, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

func gib(n uint64) string {
	return fmt.Sprintf("%.1fGiB", float64(n)/(1<<30))
}

// Render decodes one stream message and draws it. Arrays are CPU snapshots,
// objects are memory snapshots.
func Render(msg []byte, width int) (string, error) {
	msg = bytes.TrimSpace(msg)
	if len(msg) == 0 {
		return "", fmt.Errorf("empty message")
	}
	if msg[0] == '[' {
		var snap stats.CPUSnapshot
		if err := json.Unmarshal(msg, &snap); err != nil {
			return "", fmt.Errorf("decoding cpu snapshot: %w", err)
		}
		return RenderCPU(snap, width), nil
	}
	var snap stats.MemorySnapshot
	if err := json.Unmarshal(msg, &snap); err != nil {
		return "", fmt.Errorf("decoding memory snapshot: %w", err)
	}
	return RenderMemory(snap, width), nil
}

// TerminalWidth returns the width of stdout, or a default when stdout is not
// a terminal.
func TerminalWidth() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return defaultWidth
	}
	w, _, err := term.GetSize(fd)
	if err != nil || w <= 0 {
		return defaultWidth
	}
	return w
}

// Watch connects to a stream endpoint and redraws out on every message until
// ctx is done or the server closes the stream.
func Watch(ctx context.Context, url string, out io.Writer, width int) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteMessage(websocket.CloseMessage, msg)
		conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("reading stream: %w", err)
		}
		frame, err := Render(msg, width)
		if err != nil {
			return err
		}
		if _, err := io.WriteString(out, clearScreen+frame); err != nil {
			return err
		}
	}
}
