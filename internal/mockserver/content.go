// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package mockserver

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jeranaias/billdash/internal/stages"
)

// artifact returns canned markdown for a finished stage.
func artifact(j *job, st stages.Stage) string {
	bill := strings.TrimSuffix(j.bill, filepath.Ext(j.bill))

	var sb strings.Builder
	switch st.Index {
	case 0:
		fmt.Fprintf(&sb, "# %s\n\n", bill)
		fmt.Fprintf(&sb, "*Source document: %s (%d bytes), %d replica run(s).*\n\n", j.bill, j.size, len(j.replicas))
		sb.WriteString("## Summary of Provisions\n\n")
		sb.WriteString("1. Establishes a state grant program for rural broadband deployment.\n")
		sb.WriteString("2. Requires annual reporting by the administering agency.\n")
		sb.WriteString("3. Sunsets the program after ten fiscal years.\n")
	default:
		fmt.Fprintf(&sb, "## %s\n\n", st.Name)
		if st.Detail != "" {
			fmt.Fprintf(&sb, "> %s\n\n", st.Detail)
		}
		fmt.Fprintf(&sb, "Findings for **%s**:\n\n", bill)
		sb.WriteString("- No conflict with existing statute was identified.\n")
		sb.WriteString("- Reporting obligations are proportionate to program size.\n")
		sb.WriteString("- Further review is recommended for the sunset clause.\n\n")
		sb.WriteString("| Measure | Assessment |\n")
		sb.WriteString("| --- | --- |\n")
		sb.WriteString("| Cost | Moderate |\n")
		sb.WriteString("| Risk | Low |\n")
	}
	sb.WriteString("\n")
	return sb.String()
}
