// Package render formats usage snapshots for a terminal.
package render

import (
	"fmt"
	"math"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

const (
	kib = 1024
	mib = 1024 * 1024
)

var printer = message.NewPrinter(language.English)

// FormatSpeed renders bytes per second in B/s, KB/s or MB/s. Byte rates are
// rounded to whole bytes; larger units keep up to two decimals and group
// thousands.
func FormatSpeed(bytesPerSec float64) string {
	switch {
	case bytesPerSec < kib:
		v := math.Round(bytesPerSec)
		if v == 0 {
			v = 0 // drop the sign of negative zero
		}
		return fmt.Sprintf("%.0f B/s", v)
	case bytesPerSec < mib:
		return printer.Sprintf("%v KB/s", number.Decimal(bytesPerSec/kib, number.MaxFractionDigits(2)))
	default:
		return printer.Sprintf("%v MB/s", number.Decimal(bytesPerSec/mib, number.MaxFractionDigits(2)))
	}
}
