package api

import (
	"html/template"
	"net/http"
)

type pageData struct {
	Title     string
	Path      string
	Connected bool
	State     stateView
}

// pageTemplate 只渲染页面骨架与当前连接状态，具体界面由前端资源接管。
var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>AuditFi · {{.Title}}</title>
</head>
<body data-page="{{.Path}}" data-connected="{{.Connected}}">
<header>
{{- if .State.Connected}}
<span class="wallet">{{.State.FormattedAddress}}</span>
{{- if .State.Chain}} <span class="chain">{{.State.Chain.Name}}</span>{{end}}
{{- if .State.Balance}} <span class="balance">{{.State.Balance}}</span>{{end}}
{{- else}}
<a href="/wallet">Connect wallet</a>
{{- end}}
</header>
<main id="{{.Title}}"></main>
</body>
</html>
`))

func renderPage(w http.ResponseWriter, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := pageTemplate.Execute(w, data); err != nil {
		http.Error(w, "页面渲染失败", http.StatusInternalServerError)
	}
}
