package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"

	"plcreg/regfile"
)

var tagEscaper = strings.NewReplacer(
	",", "\\,",
	"=", "\\=",
	" ", "\\ ",
	"\"", "\\\"",
)

// formatRegister renders a decoded register in the given output format.
func formatRegister(format string, resp RegisterResponse, endpoint string) (string, error) {
	switch format {
	case "json":
		out, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return "", errors.Wrap(err, "could not encode register")
		}
		return string(out), nil
	case "influx":
		return strings.Join(formatInfluxFields(resp, endpoint, time.Now().UnixNano()), "\n"), nil
	case "default", "":
		var b strings.Builder
		fmt.Fprintf(&b, "%s = 0x%0*X\n", resp.Register, resp.Width/4, resp.Word)
		w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
		for _, f := range resp.Fields {
			fmt.Fprintf(w, "  %s\t[%s]\t%s\n", f.Name, f.Bits, fieldText(f))
		}
		w.Flush()
		return strings.TrimRight(b.String(), "\n"), nil
	default:
		return "", errors.Errorf("unknown output format %q", format)
	}
}

// formatInfluxFields writes one line protocol record per field, tagged with
// the field name and bit range. Enum fields carry the discriminant as value
// and the variant name as a string field.
func formatInfluxFields(resp RegisterResponse, endpoint string, timestamp int64) []string {
	measurement := tagEscaper.Replace(resp.Register)
	nodeTag := ""
	if resp.Node != "" {
		nodeTag = ",node_id=" + tagEscaper.Replace(resp.Node)
	}
	lines := make([]string, 0, len(resp.Fields))
	for _, f := range resp.Fields {
		fields := "value=" + strconv.FormatUint(f.Raw, 10)
		if s, ok := f.Value.(string); ok {
			fields += fmt.Sprintf(",variant=\"%s\"", strings.ReplaceAll(s, "\"", "\\\""))
		}
		lines = append(lines, fmt.Sprintf("%s,field=%s,bits=%s%s,endpoint=%s %s %d",
			measurement,
			tagEscaper.Replace(f.Name),
			tagEscaper.Replace(f.Bits),
			nodeTag,
			tagEscaper.Replace(endpoint),
			fields,
			timestamp))
	}
	return lines
}

// fieldText prints booleans and variant names as is and integers from the
// raw bits, since JSON round trips turn them into float64.
func fieldText(f FieldValue) string {
	switch v := f.Value.(type) {
	case bool, string:
		return fmt.Sprint(v)
	default:
		return strconv.FormatUint(f.Raw, 10)
	}
}

// describeRegisters prints the field layout of the named registers, or of
// every register when names is empty.
func describeRegisters(out io.Writer, file *regfile.File, names []string) error {
	regs := file.Registers
	if len(names) > 0 {
		regs = make([]*regfile.Register, 0, len(names))
		for _, name := range names {
			r, ok := file.Lookup(name)
			if !ok {
				return errors.Errorf("unknown register %q", name)
			}
			regs = append(regs, r)
		}
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for i, r := range regs {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s (%s", r.Name, r.Schema.Width())
		if r.Node != "" {
			fmt.Fprintf(w, ", %s", r.Node)
		}
		fmt.Fprintln(w, ")")
		if r.Description != "" {
			fmt.Fprintf(w, "  %s\n", r.Description)
		}
		fmt.Fprintln(w, "  Field\tBits\tType\tMask")
		for _, f := range r.Schema.Fields() {
			fmt.Fprintf(w, "  %s\t%s\t%s\t0x%0*X\n", f.Name, bitRange(f), f.Adapter, int(r.Schema.Width())/4, f.Mask(r.Schema.Width()))
		}
		for _, pair := range r.Schema.Overlaps() {
			fmt.Fprintf(w, "  warning: %s overlaps %s\n", pair[0], pair[1])
		}
	}
	return w.Flush()
}
