package aggregate

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/lox/balancepoint/internal/models"
)

// WriteTable prints the joined days as aligned text, one day per line.
func WriteTable(w io.Writer, days []models.DailyObservation, f Features) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)

	header := []string{"date", ColumnDegreeDays, ColumnMeanTemperature, ColumnGas}
	if f.IncludeElectric {
		header = append(header, ColumnElectric)
	}
	if f.IncludeHVAC {
		header = append(header, ColumnHeat, ColumnCool, "mode")
	}
	fmt.Fprintln(tw, strings.Join(header, "\t")+"\t")

	for _, d := range days {
		row := []string{
			d.Date.Format(time.DateOnly),
			humanize.FtoaWithDigits(d.DegreeDays, 2),
			humanize.FtoaWithDigits(d.MeanTemperature, 1),
			humanize.FtoaWithDigits(d.GasUsageCCF, 2),
		}
		if f.IncludeElectric {
			row = append(row, humanize.FtoaWithDigits(d.ElectricUsageKWh, 2))
		}
		if f.IncludeHVAC {
			row = append(row,
				humanize.Comma(int64(d.HeatSeconds)),
				humanize.Comma(int64(d.CoolSeconds)),
				string(d.Mode),
			)
		}
		fmt.Fprintln(tw, strings.Join(row, "\t")+"\t")
	}
	return tw.Flush()
}
