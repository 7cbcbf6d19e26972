package http

import (
	"bytes"
	"encoding/json"
	"html/template"

	x402 "github.com/x402labs/x402-go"
)

// PaywallConfig controls the HTML page served to browsers hitting a
// gated route without payment.
type PaywallConfig struct {
	// AppName and Description are rendered on the page.
	AppName     string
	Description string

	// Template overrides the built-in page. It receives paywallData.
	Template *template.Template
}

// paywallData is the template context.
type paywallData struct {
	AppName     string
	Description string
	Resource    string
	Amounts     []string
	// ChallengeJSON is the raw 402 body, embedded so wallet extensions
	// can pick the flow up without re-fetching.
	ChallengeJSON template.JS
}

var defaultPaywall = template.Must(template.New("paywall").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{if .AppName}}{{.AppName}}{{else}}Payment Required{{end}}</title>
<meta name="viewport" content="width=device-width, initial-scale=1">
</head>
<body>
<main>
<h1>402 Payment Required</h1>
{{if .AppName}}<h2>{{.AppName}}</h2>{{end}}
{{if .Description}}<p>{{.Description}}</p>{{end}}
{{if .Resource}}<p>Resource: <code>{{.Resource}}</code></p>{{end}}
{{if .Amounts}}<ul>{{range .Amounts}}<li>{{.}}</li>{{end}}</ul>{{end}}
<p>This resource requires payment. Use an x402-capable client or wallet
to complete the request.</p>
</main>
<script type="application/json" id="x402-challenge">{{.ChallengeJSON}}</script>
</body>
</html>
`))

// Render produces the paywall page for a challenge.
func (p *PaywallConfig) Render(required x402.PaymentRequired) ([]byte, error) {
	tmpl := p.Template
	if tmpl == nil {
		tmpl = defaultPaywall
	}

	challenge, err := json.Marshal(required)
	if err != nil {
		return nil, x402.WrapError(x402.ErrInternal, err)
	}

	data := paywallData{
		AppName:       p.AppName,
		Description:   p.Description,
		ChallengeJSON: template.JS(challenge),
	}
	if required.Resource != nil {
		data.Resource = required.Resource.URL
	}
	for _, req := range required.Accepts {
		data.Amounts = append(data.Amounts, req.String())
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, x402.WrapError(x402.ErrInternal, err)
	}
	return buf.Bytes(), nil
}
