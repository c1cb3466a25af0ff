package digest

import "html/template"

type page struct {
	Heading    string
	Date       string
	EmailCount int
	LinkCount  int
	BaseURL    string
	Groups     []groupView
	Links      []linkRow
}

type groupView struct {
	Tag  string
	Rows []emailRow
}

type emailRow struct {
	Sender  string
	Subject string
	URL     string
	Date    string
}

type linkRow struct {
	URL     string
	Title   string
	Source  string
	Display string
	Favicon string
	Date    string
}

var digestTemplate = template.Must(template.New("digest").Funcs(template.FuncMap{
	"plural": plural,
}).Parse(digestHTML))

const digestHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Hold My Mail – Digest for {{.Date}}</title>
  <style>
    @media (prefers-color-scheme: dark) {
      body, #digest { background-color: #17120c !important; color: #fefcf9 !important; }
      a, h1, h2 { color: #fefcf9 !important; }
      .tag, .button { background-color: #af0621 !important; }
      .label { color: #bbb !important; }
    }
  </style>
</head>
<body style="margin: 0; padding: 0; background-color: #fefcf9; font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;">
<table id="digest" width="100%" cellpadding="0" cellspacing="0" role="presentation" style="background-color: #fefcf9; padding: 32px 0;">
<tr><td align="center">
<table width="600" cellpadding="0" cellspacing="0" role="presentation" style="max-width: 600px; width: 100%;">
  <tr>
    <td style="padding: 0 24px 8px;">
      <h1 style="margin: 0; font-size: 28px; font-weight: 700; color: #000;">{{.Heading}}</h1>
    </td>
  </tr>
  <tr>
    <td style="padding: 0 24px 18px;">
      <p class="label" style="margin: 0; font-size: 14px; color: #888;">{{.Date}} &middot; {{plural .EmailCount "email"}}{{if .LinkCount}} &middot; {{plural .LinkCount "link"}}{{end}}</p>
    </td>
  </tr>
  <tr><td style="padding: 0 24px;"><div style="border-top: 2px solid #000; margin-bottom: 18px;"></div></td></tr>
  <tr>
    <td style="padding: 0 24px;">
      <table width="100%" cellpadding="0" cellspacing="0" role="presentation">
{{- range .Groups}}
{{- if .Tag}}
        <tr>
          <td style="padding: 0 0 16px 0;">
            <span class="tag" style="display: inline-block; background-color: #000; border-radius: 4px; padding: 3px 8px; font-size: 10px; font-weight: 600; color: #fff; text-transform: uppercase; letter-spacing: 0.5px;">{{.Tag}}</span>
          </td>
        </tr>
{{- end}}
{{- range .Rows}}
        <tr>
          <td style="padding: 0 0 24px 0;">
            <p class="label" style="margin: 0 0 2px 0; font-size: 13px; font-weight: 500; color: #444;">{{.Sender}}</p>
            <a href="{{.URL}}" style="display: block; margin: 0 0 4px 0; font-size: 18px; font-weight: 600; color: #000; line-height: 1.3; text-decoration: none;">{{.Subject}}</a>
            {{- if .Date}}
            <p class="label" style="margin: 0; font-size: 12px; color: #888;">{{.Date}}</p>
            {{- end}}
          </td>
        </tr>
{{- end}}
{{- end}}
      </table>
    </td>
  </tr>
  <tr>
    <td style="padding: 8px 24px 24px; text-align: center;">
      <a class="button" href="{{.BaseURL}}/inbox" style="display: inline-block; background-color: #000; color: #fff; padding: 14px 36px; border-radius: 10px; text-decoration: none; font-size: 14px; font-weight: 600;">View Digest</a>
    </td>
  </tr>
{{- if .Links}}
  <tr><td style="padding: 0 24px;"><div style="border-top: 2px solid #000; margin-bottom: 18px;"></div></td></tr>
  <tr>
    <td style="padding: 0 24px 8px;">
      <h2 style="margin: 0; font-size: 22px; font-weight: 700; color: #000;">Saved Links</h2>
    </td>
  </tr>
  <tr>
    <td style="padding: 0 24px 18px;">
      <p class="label" style="margin: 0; font-size: 14px; color: #888;">{{plural .LinkCount "link"}} since your last digest</p>
    </td>
  </tr>
  <tr>
    <td style="padding: 0 24px;">
      <table width="100%" cellpadding="0" cellspacing="0" role="presentation">
{{- range .Links}}
        <tr>
          <td style="padding: 0 0 20px 0;">
            <a href="{{.URL}}" style="display: block; margin: 0 0 4px 0; font-size: 16px; font-weight: 600; color: #000; line-height: 1.3; text-decoration: none;">
              {{- if .Favicon}}<img src="{{.Favicon}}" width="16" height="16" style="vertical-align: middle; margin-right: 6px; border-radius: 2px;" alt="" />{{end}}{{.Title}}</a>
            {{- if .Source}}
            <p class="label" style="margin: 0 0 2px 0; font-size: 12px; color: #666;">{{.Source}}</p>
            {{- end}}
            <p class="label" style="margin: 0; font-size: 12px; color: #888; word-break: break-all;">{{.Display}}</p>
            {{- if .Date}}
            <p class="label" style="margin: 2px 0 0; font-size: 12px; color: #888;">{{.Date}}</p>
            {{- end}}
          </td>
        </tr>
{{- end}}
      </table>
    </td>
  </tr>
{{- else}}
  <tr>
    <td style="padding: 8px 24px 24px; text-align: center;">
      <a class="button" href="{{.BaseURL}}/links" style="display: inline-block; background-color: #000; color: #fff; padding: 14px 36px; border-radius: 10px; text-decoration: none; font-size: 14px; font-weight: 600;">View Links</a>
    </td>
  </tr>
{{- end}}
  <tr>
    <td style="padding: 32px 24px 0; text-align: center;">
      <p style="margin: 0; font-size: 12px; color: #bbb;">You're receiving this because you have scheduled email delivery on Hold My Mail.</p>
      <p style="margin: 8px 0 0; font-size: 12px;"><a href="{{.BaseURL}}/sources" style="color: #bbb;">Manage delivery preferences</a></p>
    </td>
  </tr>
</table>
</td></tr>
</table>
</body>
</html>
`
