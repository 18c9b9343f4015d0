package commands

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"

	"servo-dispatcher/internal/pool"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
)

func printError(err error) {
	red.Fprintf(os.Stderr, "Error: %v\n", err)
}

func success(w io.Writer, format string, a ...any) {
	green.Fprintf(w, "✓ "+format+"\n", a...)
}

// printPorts renders the port table followed by any id conflicts.
func printPorts(w io.Writer, ports []pool.PortInfo, conflicts []pool.Conflict) {
	if len(ports) == 0 {
		yellow.Fprintln(w, "No serial ports found")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	cyan.Fprintln(tw, "PORT\tBAUD\tSTATE\tSERVOS")
	for _, p := range ports {
		state := green.Sprint("open")
		if !p.Open {
			state = red.Sprint("closed")
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", p.Name, p.BaudRate, state, joinIDs(p.Servos))
	}
	tw.Flush()

	for _, c := range conflicts {
		yellow.Fprintf(w, "⚠️  servo %d on %s is shadowed by %s\n", c.ID, c.Dropped, c.Kept)
	}
}

func joinIDs(ids []int) string {
	if len(ids) == 0 {
		return "-"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}
