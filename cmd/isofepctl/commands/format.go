package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/dantte-lp/isofep/internal/iso8583"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// formatMessage renders a decoded ISO 8583 message in the requested
// output format.
func formatMessage(msg *iso8583.Message, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatMessageJSON(msg)
	case formatTable:
		return formatMessageTable(msg), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatMessageTable(msg *iso8583.Message) string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "MTI: %s\n", msg.MTI())

	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FIELD\tVALUE")

	fields := make([]int, 0, len(msg.Fields))
	for f := range msg.Fields {
		fields = append(fields, f)
	}
	sort.Ints(fields)

	for _, f := range fields {
		fmt.Fprintf(w, "%d\t%s\n", f, msg.Fields[f])
	}

	if err := w.Flush(); err != nil {
		return buf.String()
	}
	return buf.String()
}

// jsonMessage mirrors iso8583.Message with string-keyed fields so the
// JSON output uses "39" rather than an integer-keyed map's default
// stringification quirks.
type jsonMessage struct {
	MTI    string            `json:"mti"`
	Fields map[string]string `json:"fields"`
}

func formatMessageJSON(msg *iso8583.Message) (string, error) {
	out := jsonMessage{MTI: msg.MTI(), Fields: make(map[string]string, len(msg.Fields))}
	for f, v := range msg.Fields {
		out.Fields[strconv.Itoa(f)] = v
	}

	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}
	return string(b) + "\n", nil
}
