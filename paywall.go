package x402

import (
	"html/template"
	"io"
)

var paywallTemplate = template.Must(template.New("paywall").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>402 Payment Required</title>
<style>
body{font-family:system-ui,-apple-system,sans-serif;display:flex;justify-content:center;align-items:center;min-height:100vh;margin:0;background:#f5f5f5;color:#333}
.card{background:#fff;border-radius:12px;padding:2rem;max-width:480px;width:90%;box-shadow:0 2px 12px rgba(0,0,0,.1);text-align:center}
h1{font-size:1.5rem;margin:0 0 .5rem}
.code{font-size:3rem;font-weight:700;color:#6366f1;margin:.5rem 0}
p{color:#666;line-height:1.5}
dl{background:#f8f9fa;border-radius:8px;padding:1rem;margin:1rem 0;font-size:.875rem;text-align:left}
dt{font-weight:600;margin-top:.5rem}
dd{margin:0 0 .25rem;font-family:monospace;word-break:break-all}
</style>
</head>
<body>
<div class="card">
<div class="code">402</div>
<h1>Payment Required</h1>
<p>{{.Message}}</p>
<dl>
<dt>Network</dt><dd>{{.Network}}</dd>
<dt>Amount</dt><dd>{{.Amount}}</dd>
<dt>Pay To</dt><dd>{{.PayTo}}</dd>
{{- if .Asset}}
<dt>Asset</dt><dd>{{.Asset}}</dd>
{{- end}}
</dl>
<script type="application/json" id="x402-requirements">{{.Requirements}}</script>
</div>
</body>
</html>
`))

type paywallData struct {
	Message      string
	Network      string
	Amount       string
	PayTo        string
	Asset        string
	Requirements *PaymentRequiredResponse
}

func renderPaywall(w io.Writer, message string, req *PaymentRequirements) error {
	return paywallTemplate.Execute(w, paywallData{
		Message: message,
		Network: req.Network,
		Amount:  req.Amount,
		PayTo:   req.PayTo,
		Asset:   req.Asset,
		Requirements: &PaymentRequiredResponse{
			X402Version: X402Version,
			Error:       message,
			Accepts:     []PaymentRequirements{*req},
		},
	})
}
