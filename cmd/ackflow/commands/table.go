package commands

import (
	"io"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
)

// printPairs writes a borderless key/value table.
func printPairs(w io.Writer, pairs [][2]string) {
	table := tablewriter.NewWriter(w)

	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator(":")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)

	for _, pair := range pairs {
		table.Append([]string{pair[0], pair[1]})
	}

	table.Render()
}

func uitoa(v uint64) string { return strconv.FormatUint(v, 10) }

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
