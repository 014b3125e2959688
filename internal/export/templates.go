package export

import (
	"bytes"
	"html/template"
	"time"

	"contractflow/api/internal/render"
)

var contractTemplate = template.Must(template.New("contract").Funcs(template.FuncMap{
	"formatDate": func(t time.Time, layout string) string {
		if t.IsZero() {
			return ""
		}
		return t.UTC().Format(layout)
	},
}).Parse(contractPage))

// TemplateData holds data for contract template rendering
type TemplateData struct {
	Title            string
	CollaborationKey string
	Status           string
	UpdatedAt        time.Time
	Styles           template.HTML
	ContentHTML      template.HTML
	Activity         []Activity
}

func templateDataFor(doc Document) TemplateData {
	head, body := render.Split(doc.RenderedHTML)
	return TemplateData{
		Title:            doc.Title,
		CollaborationKey: doc.CollaborationKey,
		Status:           statusLine(doc),
		UpdatedAt:        doc.UpdatedAt,
		Styles:           template.HTML(head),
		ContentHTML:      template.HTML(body),
		Activity:         doc.Activity,
	}
}

func statusLine(doc Document) string {
	switch {
	case doc.IsSigned:
		return "Signed"
	case doc.IsContractSent:
		return "Sent, awaiting signature"
	default:
		return "Draft"
	}
}

// RenderContractHTML renders the contract page template.
func RenderContractHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := contractTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const contractPage = `<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>{{if .Title}}{{.Title}}{{else}}Contract {{.CollaborationKey}}{{end}}</title>
<style>
body{font-family:Georgia,serif;margin:2.5cm;color:#222;line-height:1.5}
.cf-meta{font-family:Helvetica,Arial,sans-serif;font-size:9pt;color:#666;border-bottom:1px solid #ccc;margin-bottom:1.5em;padding-bottom:.5em}
.cf-activity{page-break-before:always;font-family:Helvetica,Arial,sans-serif;font-size:9pt}
.cf-activity td{padding:.2em .6em .2em 0;vertical-align:top}
</style>
{{.Styles}}
</head>
<body>
<div class="cf-meta">
<div>Collaboration {{.CollaborationKey}}</div>
<div>Status: {{.Status}}{{with formatDate .UpdatedAt "2006-01-02 15:04 MST"}} &middot; Updated {{.}}{{end}}</div>
</div>
<main>{{.ContentHTML}}</main>
{{if .Activity}}
<section class="cf-activity">
<h2>Activity</h2>
<table>
{{range .Activity}}<tr><td>{{formatDate .When "2006-01-02 15:04"}}</td><td>{{.Type}}</td><td>{{.Description}}</td><td>{{.Actor}}</td></tr>
{{end}}</table>
</section>
{{end}}
</body>
</html>
`
