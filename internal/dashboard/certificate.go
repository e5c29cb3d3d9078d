package dashboard

import (
	"html/template"
	"strings"
)

// The certificate fragment is embedded by external renderers. Reason and
// beneficiary fields come from chain data that anyone can write, so
// everything interpolated here goes through html/template's contextual
// escaping.
var certificateTmpl = template.Must(template.New("certificate").Parse(`<div class="certificate">
  <h2>Retirement certificate</h2>
  <dl>
    <dt>Credits retired</dt><dd>{{.Quantity}} ({{.BatchDenom}})</dd>
    <dt>Jurisdiction</dt><dd>{{.Jurisdiction}}</dd>
    {{- if .BeneficiaryName}}
    <dt>Beneficiary</dt><dd>{{.BeneficiaryName}}</dd>
    {{- end}}
    <dt>Reason</dt><dd>{{.Reason}}</dd>
    <dt>Transaction</dt><dd><code>{{.TxHash}}</code></dd>
    <dt>Retired at</dt><dd>{{.Timestamp}}</dd>
  </dl>
</div>`))

// RenderCertificateHTML renders the certificate fragment.
func RenderCertificateHTML(cert *Certificate) (string, error) {
	var b strings.Builder
	if err := certificateTmpl.Execute(&b, cert); err != nil {
		return "", err
	}
	return b.String(), nil
}
