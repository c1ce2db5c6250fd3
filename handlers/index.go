package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const PageTitle = "GhostTrack Dashboard"

const indexHTML = `<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>` + PageTitle + `</title>
</head>
<body>
<h1>` + PageTitle + `</h1>
<pre id="view">` + MsgLoading + `</pre>
<script>
async function load() {
  const res = await fetch("/api/dashboard", {credentials: "include"});
  document.getElementById("view").textContent = JSON.stringify(await res.json(), null, 2);
}
load();
setInterval(load, 10000);
</script>
</body>
</html>
`

// Index serves a minimal page that renders the dashboard JSON.
func Index(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(indexHTML))
}
