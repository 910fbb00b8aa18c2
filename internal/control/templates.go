package control

import (
	"html/template"
	"regexp"
)

// dollarVar matches the spec's $name substitution syntax: a bare $
// followed by an identifier, name in [A-Za-z_][A-Za-z0-9_]*.
var dollarVar = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)

// rewriteDollarDelims rewrites "$name" to "{{.name}}" so the page can be
// parsed with stdlib html/template, which only understands {{ }} delimiters.
// The teacher has no template engine of its own (plain JSON everywhere), so
// this is the one small adapter the control server needs on top of the
// ambient stdlib choice.
func rewriteDollarDelims(src string) string {
	return dollarVar.ReplaceAllString(src, "{{.$1}}")
}

// mustParsePage parses a $name-delimited template body, panicking on a
// malformed built-in template (a programmer error, not a runtime one).
func mustParsePage(name, body string) *template.Template {
	return template.Must(template.New(name).Parse(rewriteDollarDelims(body)))
}

const landingPageBody = `<!DOCTYPE html>
<html><head><title>camerad</title></head>
<body>
<h1>camerad</h1>
<p>Streaming port: $streaming_port</p>
<ul>
<li><a href="/control">Settings</a></li>
<li><a href="/timelapse">Time-lapse</a></li>
<li><a href="/status">Status</a></li>
</ul>
</body></html>
`

const controlPageBody = `<!DOCTYPE html>
<html><head><title>camerad settings</title></head>
<body>
<h1>Settings</h1>
<form method="POST" action="/control">
<label>H264 enabled <input type="checkbox" name="h264_enabled" $h264_enabled_checked></label><br>
<label>H264 width <input type="text" name="h264_width" value="$h264_width"></label><br>
<label>H264 height <input type="text" name="h264_height" value="$h264_height"></label><br>
<label>H264 bitrate kbps <input type="text" name="h264_bitrate_kbps" value="$h264_bitrate_kbps"></label><br>
<label>MJPEG fps cap <input type="text" name="mjpeg_fps_cap" value="$mjpeg_fps_cap"></label><br>
<label>Target CPU % <input type="text" name="target_cpu_percent" value="$target_cpu_percent"></label><br>
<button type="submit">Apply</button>
</form>
</body></html>
`

const timelapsePageBody = `<!DOCTYPE html>
<html><head><title>camerad time-lapse</title></head>
<body>
<h1>Time-lapse</h1>
<p>Active session: $active</p>
<p>Recovery status: $recovery_status</p>
<div id="recordings"></div>
<script>
fetch('/api/timelapse/list').then(r => r.json()).then(list => {
  const el = document.getElementById('recordings');
  el.textContent = JSON.stringify(list);
});
</script>
</body></html>
`

var (
	landingPage   = mustParsePage("landing", landingPageBody)
	controlPage   = mustParsePage("control", controlPageBody)
	timelapsePage = mustParsePage("timelapse", timelapsePageBody)
)
