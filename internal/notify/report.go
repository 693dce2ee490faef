// Package notify builds and delivers the executor's batch report.
package notify

import (
	"fmt"
	"html"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/quantops/vixroll/internal/models"
)

// OrderOutcome is the per-order line of a batch report.
type OrderOutcome struct {
	Order  models.Order
	Result string // e.g. "FILLED", "rejected", "in-flight"
	Detail string
}

// Report summarises one executor batch for human review.
type Report struct {
	Invalid      []OrderOutcome
	RiskRejected []OrderOutcome
	Submitted    []OrderOutcome
	InFlight     []OrderOutcome
	Errors       []string
}

// Empty reports whether there is anything worth notifying about.
func (r *Report) Empty() bool {
	return len(r.Invalid) == 0 && len(r.RiskRejected) == 0 &&
		len(r.Submitted) == 0 && len(r.InFlight) == 0 && len(r.Errors) == 0
}

func (r *Report) sections() []struct {
	Title    string
	Outcomes []OrderOutcome
} {
	return []struct {
		Title    string
		Outcomes []OrderOutcome
	}{
		{"Invalid", r.Invalid},
		{"Risk rejected", r.RiskRejected},
		{"Submitted", r.Submitted},
		{"In flight", r.InFlight},
	}
}

// WriteTable renders the report as text tables.
func (r *Report) WriteTable(w io.Writer) {
	for _, section := range r.sections() {
		if len(section.Outcomes) == 0 {
			continue
		}
		fmt.Fprintf(w, "%s (%d)\n", section.Title, len(section.Outcomes))
		table := tablewriter.NewWriter(w)
		table.Header("Order", "Symbol", "Maturity", "Side", "Size", "Result", "Detail")
		for _, oc := range section.Outcomes {
			table.Append(
				oc.Order.OrderID,
				oc.Order.Symbol,
				oc.Order.Maturity,
				string(oc.Order.Details.Side),
				fmt.Sprintf("%d", oc.Order.Details.Size),
				oc.Result,
				oc.Detail,
			)
		}
		table.Render()
		fmt.Fprintln(w)
	}
	for _, e := range r.Errors {
		fmt.Fprintf(w, "ERROR: %s\n", e)
	}
}

// HTML renders the report as the email body.
func (r *Report) HTML() string {
	var sb strings.Builder
	sb.WriteString("<html><body>")
	for _, section := range r.sections() {
		if len(section.Outcomes) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "<h3>%s (%d)</h3>", html.EscapeString(section.Title), len(section.Outcomes))
		sb.WriteString("<table border=\"1\" cellpadding=\"4\">")
		sb.WriteString("<tr><th>Order</th><th>Symbol</th><th>Maturity</th><th>Side</th><th>Size</th><th>Result</th><th>Detail</th></tr>")
		for _, oc := range section.Outcomes {
			fmt.Fprintf(&sb, "<tr><td>%s</td><td>%s</td><td>%s</td><td>%s</td><td>%d</td><td>%s</td><td>%s</td></tr>",
				html.EscapeString(oc.Order.OrderID),
				html.EscapeString(oc.Order.Symbol),
				html.EscapeString(oc.Order.Maturity),
				html.EscapeString(string(oc.Order.Details.Side)),
				oc.Order.Details.Size,
				html.EscapeString(oc.Result),
				html.EscapeString(oc.Detail))
		}
		sb.WriteString("</table>")
	}
	if len(r.Errors) > 0 {
		sb.WriteString("<h3>Errors</h3><ul>")
		for _, e := range r.Errors {
			fmt.Fprintf(&sb, "<li>%s</li>", html.EscapeString(e))
		}
		sb.WriteString("</ul>")
	}
	sb.WriteString("</body></html>")
	return sb.String()
}
