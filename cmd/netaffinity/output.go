package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"netaffinity/pkg/types"
)

// printResult writes v as indented JSON when --format json is set, and
// through text otherwise.
func printResult(w io.Writer, v interface{}, text func(io.Writer)) error {
	if jsonOutput() {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(data))
		return nil
	}
	text(w)
	return nil
}

func jsonOutput() bool {
	return strings.ToLower(outputFormat) == "json"
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func formatPlacementText(p *types.Placement) string {
	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("IP:          %s\n", p.IP))
	builder.WriteString(fmt.Sprintf("Interface:   %s\n", orUnknown(p.Interface)))
	builder.WriteString(fmt.Sprintf("PCI address: %s\n", orUnknown(p.PCIAddress)))
	if p.Resolved() {
		builder.WriteString(fmt.Sprintf("Socket:      %d\n", p.Socket))
		builder.WriteString(fmt.Sprintf("CPUs:        %s\n", orUnknown(p.CPUList)))
		if p.UsableCPUs != "" {
			builder.WriteString(fmt.Sprintf("Usable CPUs: %s\n", p.UsableCPUs))
		}
	} else {
		builder.WriteString("Socket:      unknown\n")
	}
	if p.GID != "" {
		builder.WriteString(fmt.Sprintf("RDMA device: %s\n", orUnknown(p.RDMADevice)))
		builder.WriteString(fmt.Sprintf("GID:         %s\n", p.GID))
	}
	return builder.String()
}

func joinInts(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return strings.Join(parts, " ")
}
