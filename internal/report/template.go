package report

import (
	"bytes"
	"fmt"
	"html/template"
)

// RenderHTML renders the report as a standalone HTML document.
func RenderHTML(d *Data) (string, error) {
	tmpl, err := template.New("report").Parse(reportTemplate)
	if err != nil {
		return "", fmt.Errorf("parsing template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, d); err != nil {
		return "", fmt.Errorf("executing template: %w", err)
	}
	return buf.String(), nil
}

// reportTemplate is the HTML template for the performance report.
// It is embedded as a Go constant with no external file dependencies.
const reportTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>{{.Title}}</title>
<style>
  :root {
    --bg: #ffffff;
    --text: #1a1a2e;
    --muted: #6b7280;
    --border: #e5e7eb;
    --accent: #2563eb;
    --green: #16a34a;
    --red: #dc2626;
    --section-bg: #f8fafc;
  }
  * { margin: 0; padding: 0; box-sizing: border-box; }
  body {
    font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
    color: var(--text);
    background: var(--bg);
    line-height: 1.6;
    max-width: 960px;
    margin: 0 auto;
    padding: 20px;
  }
  h1, h2, h3 { font-weight: 600; }
  h1 { font-size: 1.5rem; color: var(--accent); }
  h2 { font-size: 1.15rem; margin: 24px 0 12px; padding-bottom: 6px; border-bottom: 2px solid var(--accent); }
  .muted { color: var(--muted); font-size: 0.85rem; }
  .header {
    display: flex;
    justify-content: space-between;
    align-items: flex-end;
    border-bottom: 3px solid var(--accent);
    padding-bottom: 12px;
    margin-bottom: 16px;
  }
  .cards {
    display: grid;
    grid-template-columns: repeat(auto-fit, minmax(160px, 1fr));
    gap: 12px;
    margin: 16px 0;
  }
  .card {
    background: var(--section-bg);
    border: 1px solid var(--border);
    border-radius: 8px;
    padding: 12px 16px;
  }
  .card .label { font-size: 0.75rem; color: var(--muted); text-transform: uppercase; letter-spacing: 0.05em; }
  .card .value { font-size: 1.15rem; font-weight: 600; }
  .gain { color: var(--green); }
  .loss { color: var(--red); }
  .flat { color: var(--muted); }
  .agent {
    border: 1px solid var(--border);
    border-radius: 10px;
    padding: 16px 20px;
    margin: 20px 0;
  }
  .agent-head { display: flex; justify-content: space-between; align-items: center; }
  .badge {
    display: inline-block;
    padding: 1px 10px;
    border-radius: 999px;
    font-size: 0.75rem;
    font-weight: 600;
    text-transform: uppercase;
  }
  .badge.active { background: #dcfce7; color: var(--green); }
  .badge.paused { background: #fef3c7; color: #b45309; }
  .badge.deleted { background: #fee2e2; color: var(--red); }
  table { width: 100%; border-collapse: collapse; margin: 10px 0; font-size: 0.85rem; }
  th { text-align: left; color: var(--muted); font-weight: 600; border-bottom: 1px solid var(--border); padding: 6px 8px; }
  td { border-bottom: 1px solid var(--border); padding: 6px 8px; }
  td.buy { color: var(--green); font-weight: 600; }
  td.sell { color: var(--red); font-weight: 600; }
  td.hold { color: var(--muted); }
  td.rejected { color: var(--red); }
  td.filled { color: var(--green); }
  .chart { margin: 12px 0; overflow-x: auto; }
  .charts-row { display: flex; gap: 20px; align-items: flex-start; flex-wrap: wrap; }
  .footer {
    margin-top: 28px;
    padding-top: 12px;
    border-top: 1px solid var(--border);
    font-size: 0.8rem;
    color: var(--muted);
    text-align: center;
  }
  @media print {
    body { padding: 0; }
    .agent { break-inside: avoid; }
  }
</style>
</head>
<body>
<div class="header">
  <div>
    <h1>{{.Title}}</h1>
    {{if .MarketLine}}<div class="muted">{{.MarketLine}}</div>{{end}}
  </div>
  <div class="muted">Generated {{.GeneratedAt}}</div>
</div>

<div class="cards">
  <div class="card"><div class="label">Agents</div><div class="value">{{.AgentCount}} ({{.ActiveCount}} active)</div></div>
  <div class="card"><div class="label">Combined Assets</div><div class="value">{{.TotalAssets}}</div></div>
  <div class="card"><div class="label">Combined P&amp;L</div><div class="value {{.TotalPnLClass}}">{{.TotalPnL}}</div></div>
</div>

{{if .ComparisonChart}}
<div class="chart">{{.ComparisonChart}}</div>
{{end}}

{{range .Agents}}
<div class="agent">
  <div class="agent-head">
    <h2 style="margin:0;border:none;">{{.Name}}</h2>
    <div>
      <span class="muted">{{.Model}} · since {{.CreatedAt}}</span>
      <span class="badge {{.StatusClass}}">{{.Status}}</span>
    </div>
  </div>

  <div class="cards">
    <div class="card"><div class="label">Total Assets</div><div class="value">{{.TotalAssets}}</div></div>
    <div class="card"><div class="label">Return</div><div class="value {{.ReturnClass}}">{{.ReturnPct}}</div></div>
    {{if .AnnualizedPct}}<div class="card"><div class="label">Annualized</div><div class="value">{{.AnnualizedPct}}</div></div>{{end}}
    <div class="card"><div class="label">Max Drawdown</div><div class="value">{{.MaxDrawdownPct}}</div></div>
    <div class="card"><div class="label">Cash / Positions</div><div class="value">{{.Cash}} / {{.MarketValue}}</div></div>
    <div class="card"><div class="label">Trades</div><div class="value">{{.Trades}}</div></div>
    {{if .WinRatePct}}<div class="card"><div class="label">Win Rate</div><div class="value">{{.WinRatePct}}</div></div>{{end}}
    <div class="card"><div class="label">Realized P&amp;L</div><div class="value">{{.RealizedPnL}}</div></div>
    <div class="card"><div class="label">Fees Paid</div><div class="value">{{.TotalFees}}</div></div>
  </div>

  <div class="charts-row">
    {{if .AssetChart}}<div class="chart">{{.AssetChart}}</div>{{end}}
    {{if .WinGauge}}<div class="chart">{{.WinGauge}}</div>{{end}}
  </div>

  {{if .Positions}}
  <h2>Positions ({{.PositionCount}})</h2>
  <table>
    <tr><th>Code</th><th>Shares</th><th>Avg Cost</th><th>Last</th><th>P&amp;L</th><th>Value</th></tr>
    {{range .Positions}}
    <tr>
      <td>{{.Code}}</td><td>{{.Shares}}</td><td>{{.AvgCost}}</td><td>{{.Last}}</td>
      <td class="{{.PnLClass}}">{{.PnLPct}}</td><td>{{.Value}}</td>
    </tr>
    {{end}}
  </table>
  {{end}}

  {{if .Orders}}
  <h2>Recent Orders</h2>
  <table>
    <tr><th>Time</th><th>Side</th><th>Code</th><th>Qty</th><th>Price</th><th>Status</th><th>Note</th></tr>
    {{range .Orders}}
    <tr>
      <td>{{.Time}}</td><td class="{{.SideClass}}">{{.Side}}</td><td>{{.Code}}</td>
      <td>{{.Quantity}}</td><td>{{.Price}}</td><td class="{{.StatusClass}}">{{.Status}}</td>
      <td class="muted">{{.Note}}</td>
    </tr>
    {{end}}
  </table>
  {{end}}
</div>
{{end}}

<div class="footer">
  Simulated trading by LLM agents. Not investment advice.
</div>
</body>
</html>`
