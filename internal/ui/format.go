package ui

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var subscriptDigits = []rune("₀₁₂₃₄₅₆₇₈₉")

// FormatNumber renders num with a K, M, B or T suffix.
func FormatNumber(num float64, decimals int) string {
	if num == 0 {
		return "0"
	}

	abs := math.Abs(num)
	sign := ""
	if num < 0 {
		sign = "-"
	}

	switch {
	case abs >= 1e12:
		return fmt.Sprintf("%s%.*fT", sign, decimals, abs/1e12)
	case abs >= 1e9:
		return fmt.Sprintf("%s%.*fB", sign, decimals, abs/1e9)
	case abs >= 1e6:
		return fmt.Sprintf("%s%.*fM", sign, decimals, abs/1e6)
	case abs >= 1e3:
		return fmt.Sprintf("%s%.*fK", sign, decimals, abs/1e3)
	default:
		return fmt.Sprintf("%s%.*f", sign, decimals, abs)
	}
}

// FormatCurrency renders a dollar amount with one decimal and a suffix.
func FormatCurrency(amount float64) string {
	return "$" + FormatNumber(amount, 1)
}

// FormatPrice picks decimals by magnitude. Prices below 0.000001 are shown
// as mantissa followed by a subscript count of leading zeros.
func FormatPrice(price float64) string {
	switch {
	case price == 0:
		return "$0.0000"
	case price >= 0.01:
		return fmt.Sprintf("$%.4f", price)
	case price >= 0.0001:
		return fmt.Sprintf("$%.6f", price)
	case price >= 0.000001:
		return fmt.Sprintf("$%.8f", price)
	case price < 0:
		return fmt.Sprintf("$%.10f", price)
	}

	// e.g. 1.234e-07
	mantissa, exp, _ := strings.Cut(strconv.FormatFloat(price, 'e', -1, 64), "e-")
	zeros, err := strconv.Atoi(exp)
	if err != nil || !strings.Contains(mantissa, ".") {
		return fmt.Sprintf("$%.10f", price)
	}
	return "$" + mantissa + "₀" + subscript(zeros-1)
}

func subscript(n int) string {
	var b strings.Builder
	for _, d := range strconv.Itoa(n) {
		b.WriteRune(subscriptDigits[d-'0'])
	}
	return b.String()
}

// FormatTimeAgo renders the time elapsed since t as "5m ago".
func FormatTimeAgo(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}

	secs := int64(now.Sub(t) / time.Second)
	switch {
	case secs < 60:
		return fmt.Sprintf("%ds ago", secs)
	case secs < 3600:
		return fmt.Sprintf("%dm ago", secs/60)
	case secs < 86400:
		return fmt.Sprintf("%dh ago", secs/3600)
	default:
		return fmt.Sprintf("%dd ago", secs/86400)
	}
}

// formatDuration formats a duration in human-readable form.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%.0fm", d.Minutes())
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh %dm", hours, minutes)
}

// truncate shortens s to n runes with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
