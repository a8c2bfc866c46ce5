package demoserver

import (
	htmltemplate "html/template"
	"text/template"
)

var (
	browseTmpl  = htmltemplate.Must(htmltemplate.New("browse").Parse(browseHTML))
	detailTmpl  = htmltemplate.Must(htmltemplate.New("detail").Parse(detailHTML))
	controlTmpl = htmltemplate.Must(htmltemplate.New("control").Parse(controlPanelHTML))
	appJSTmpl   = template.Must(template.New("app.js").Parse(appJS))
)

// browseHTML is the SPA shell. Every unknown deep link renders it too.
const browseHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Browse builds</title>
    <style>
        body { font-family: system-ui, sans-serif; max-width: 900px; margin: 0 auto; padding: 20px; }
        .card { display: block; border: 1px solid #ddd; border-radius: 8px; padding: 12px; margin: 12px 0; min-height: 120px; color: inherit; text-decoration: none; }
        .card h3 { margin: 0 0 6px; }
        #detail { display: none; border: 2px solid #007bff; padding: 16px; border-radius: 8px; }
    </style>
    <script src="/static/app.js?v={{.Version}}"></script>
</head>
<body>
    <h1>Browse builds</h1>
    <input type="search" id="q" placeholder="Search builds, builders, usernames">
    <div id="detail"></div>
    <div id="grid"></div>
</body>
</html>`

const detailHTML = `<!DOCTYPE html>
<html>
<head><title>{{.ProjectName}}</title></head>
<body>
    <a href="/browse">Back to builds</a>
    <h1>{{.ProjectName}}</h1>
    <p>by {{.BuilderName}} (@{{.V0Username}})</p>
    <p>{{.Description}}</p>
    <p>Category: {{.Category}} · Votes: {{.VoteCount}}</p>
    <p><a href="{{.ProjectURL}}">Open project</a></p>
</body>
</html>`

// appJS is the client bundle. Only the active mode's code is emitted so the
// bundle carries exactly the route strings that mode uses.
const appJS = `// demo build browser, mode {{.Mode}}
(function () {
  function card(b) {
{{- if eq .Mode "anchor"}}
    var el = document.createElement('a');
    el.href = '/build/' + b.id;
    el.setAttribute('data-id', b.id);
{{- else}}
    var el = document.createElement('div');
{{- end}}
    el.className = 'card';
    var h = document.createElement('h3');
    h.textContent = b.project_name;
    var u = document.createElement('p');
    u.textContent = b.builder_name + ' @' + b.v0_username;
    var d = document.createElement('p');
    d.textContent = b.description;
    el.appendChild(h);
    el.appendChild(u);
    el.appendChild(d);
{{- if eq .Mode "pushstate"}}
    el.addEventListener('click', function () {
      history.pushState({ id: b.id }, '', '/browse/' + b.id);
      showDetail(b);
    });
{{- end}}
{{- if eq .Mode "share"}}
    var s = document.createElement('button');
    s.textContent = 'Share';
    s.addEventListener('click', function (e) {
      e.stopPropagation();
      location.href = '/project/' + b.id;
    });
    el.appendChild(s);
{{- end}}
    return el;
  }

{{- if eq .Mode "pushstate"}}

  function showDetail(b) {
    var d = document.getElementById('detail');
    d.textContent = b.project_name + ' by ' + b.builder_name + ': ' + b.description;
    d.style.display = 'block';
  }
{{- end}}

  function render(builds) {
    var grid = document.getElementById('grid');
    grid.innerHTML = '';
    builds.forEach(function (b) { grid.appendChild(card(b)); });
  }

  function load(q) {
    return fetch('/api/builds?search=' + encodeURIComponent(q))
      .then(function (r) { return r.json(); })
      .then(function (data) { render(data.builds || []); });
  }

  document.addEventListener('DOMContentLoaded', function () {
    fetch('/api/stats');
    document.getElementById('q').addEventListener('keydown', function (e) {
      if (e.key === 'Enter') load(e.target.value);
    });
    load('');
  });
})();
`

const controlPanelHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Demo Server Control Panel</title>
    <style>
        body { font-family: system-ui, -apple-system, sans-serif; max-width: 900px; margin: 0 auto; padding: 20px; background: #f5f5f5; }
        h1 { color: #333; border-bottom: 2px solid #007bff; padding-bottom: 10px; }
        .mode-btn { padding: 8px 16px; border: none; border-radius: 4px; cursor: pointer; font-size: 14px; margin-right: 8px; }
        .mode-btn.active { background: #007bff; color: white; }
        .mode-btn.inactive { background: #e9ecef; color: #333; }
        .info-box { background: #e7f3ff; padding: 15px; border-radius: 8px; margin-bottom: 20px; border-left: 4px solid #007bff; }
    </style>
</head>
<body>
    <h1>Demo Server Control Panel</h1>

    <div class="info-box">
        <strong>How to use:</strong> Switch how the build browser links to projects,
        then point permafind at <a href="/browse">/browse</a> and compare its report.
    </div>

    <p>Target build: <code>{{.TargetID}}</code></p>

    {{range .Modes}}
    <button class="mode-btn {{if eq . $.Mode}}active{{else}}inactive{{end}}" onclick="setMode('{{.}}')">{{.}}</button>
    {{end}}

    <script>
        function setMode(mode) {
            fetch('/demo/set-mode', {
                method: 'POST',
                headers: {'Content-Type': 'application/x-www-form-urlencoded'},
                body: 'mode=' + encodeURIComponent(mode)
            }).then(function () { location.reload(); });
        }
    </script>
</body>
</html>`
