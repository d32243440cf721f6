package server

import "html/template"

type statusTemplatePort struct {
	ID     string
	Name   string
	Output bool
}

type statusTemplateData struct {
	Version   string
	State     string
	Device    string
	Firmware  int
	Ports     []statusTemplatePort
	PortCount int
	Clients   int
	Log       string

	IsError bool
	Error   string

	CSRFField template.HTML
}

const templateString = `
<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1, shrink-to-fit=no">
  <title>V2 Configure status</title>
  <style>
    body {
      font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", "Roboto", "Helvetica Neue", Arial, sans-serif;
    }

    p {
      color: #858585;
    }

    .inner-container {
      max-width: 1024px;
      margin: 0 auto;
      text-align: center;
    }

    .error {
      border: 1px solid orangered;
      border-radius: 4px;
      max-width: 500px;
      margin: 20px auto;
      padding: 10px;
      color: darkred;
    }

    .item {
      border: 1px solid lightgray;
      border-radius: 4px;
      max-width: 500px;
      margin: 20px auto;
      padding: 10px;
    }

    .badge {
      display: inline-block;
      padding: 6px 10px;
      border: 1px solid #01B757;
      border-radius: 4px;
      color: #01B757;
    }

    pre {
      text-align: left;
      font-size: 11px;
      background: #f5f5f5;
      padding: 10px;
      overflow-x: auto;
    }
  </style>
</head>
<body>
  <div class="inner-container">
    <h1>V2 Configure</h1>
    <span class="badge">Version {{.Version}}</span>

    {{if .IsError}}
    <div class="error">{{.Error}}</div>
    {{end}}

    <div class="item">
      <h3>Device</h3>
      {{if .Device}}
      <p>{{.Device}} ({{.State}}){{if .Firmware}}, firmware version {{.Firmware}}{{end}}</p>
      {{else}}
      <p>No device connected</p>
      {{end}}
      <p>{{.Clients}} connected pages</p>
    </div>

    <div class="item">
      <h3>MIDI ports ({{.PortCount}})</h3>
      {{range .Ports}}
      <p>{{.Name}}{{if not .Output}} (input only){{end}}</p>
      {{else}}
      <p>No MIDI ports found</p>
      {{end}}
    </div>

    <form method="POST" action="/status/log.gz">
      {{.CSRFField}}
      <input type="submit" value="Download detailed log">
    </form>

    <h3>Log</h3>
    <pre>{{.Log}}</pre>
  </div>
</body>
</html>
`

var statusTemplate = template.Must(template.New("status").Parse(templateString))
