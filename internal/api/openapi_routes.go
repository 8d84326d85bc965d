package api

import (
	"html/template"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
)

// OpenAPISpecPath OpenAPI 文档位置，相对工作目录
var OpenAPISpecPath = "docs/api/openapi.yaml"

var redocPage = template.Must(template.New("redoc").Parse(`<!DOCTYPE html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>{{.Title}} API - Redoc</title>
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <style>
      body{margin:0;padding:0;font-family:-apple-system,Segoe UI,Helvetica,Arial,sans-serif}
      .topbar{position:fixed;top:0;left:0;right:0;height:48px;display:flex;align-items:center;justify-content:space-between;padding:0 12px;background:#f8fafc;border-bottom:1px solid #e5e7eb;z-index:9999}
      .brand{font-weight:600;color:#0f172a}
      .nav a{color:#0f172a;text-decoration:none;margin-left:12px;padding:6px 10px;border-radius:6px;border:1px solid #d1d5db;background:#ffffff}
      .wrap{margin-top:48px}
    </style>
  </head>
  <body>
    <div class="topbar">
      <div class="brand">{{.Title}} API</div>
      <div class="nav">
        <a href="/openapi" target="_blank">OpenAPI YAML</a>
        <a href="/docs/ui">Swagger UI</a>
      </div>
    </div>
    <div class="wrap"><redoc spec-url="/openapi" expand-responses="200"></redoc></div>
    <script src="{{.Script}}"></script>
  </body>
</html>`))

var swaggerPage = template.Must(template.New("swagger").Parse(`<!doctype html>
<html>
  <head>
    <meta charset="utf-8">
    <title>{{.Title}} API - Swagger UI</title>
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <link rel="stylesheet" href="{{.CSS}}">
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="{{.Script}}" crossorigin></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '/openapi',
        dom_id: '#swagger-ui',
        deepLinking: true,
        presets: [SwaggerUIBundle.presets.apis],
        layout: 'BaseLayout'
      })
    </script>
  </body>
</html>`))

// registerOpenAPIRoutes 提供 /openapi 与 /docs/redoc /docs/ui
func registerOpenAPIRoutes(engine *gin.Engine, title string) {
	engine.GET("/openapi", serveOpenAPI)
	engine.GET("/openapi.yaml", serveOpenAPI)
	engine.GET("/docs/redoc", func(c *gin.Context) {
		// 优先使用本地资源，离线可用；否则回退到 CDN
		script := "https://cdn.redoc.ly/redoc/latest/bundles/redoc.standalone.js"
		if fileExists("static/vendors/redoc/redoc.standalone.js") {
			script = "/static/vendors/redoc/redoc.standalone.js"
		}
		renderPage(c, redocPage, gin.H{"Title": title, "Script": script})
	})
	engine.GET("/docs/ui", func(c *gin.Context) {
		css := "https://unpkg.com/swagger-ui-dist@5/swagger-ui.css"
		script := "https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"
		if fileExists("static/vendors/swagger-ui/swagger-ui-bundle.js") {
			css = "/static/vendors/swagger-ui/swagger-ui.css"
			script = "/static/vendors/swagger-ui/swagger-ui-bundle.js"
		}
		renderPage(c, swaggerPage, gin.H{"Title": title, "CSS": css, "Script": script})
	})
	if fileExists("static") {
		engine.Static("/static", "./static")
	}
}

func serveOpenAPI(c *gin.Context) {
	if !fileExists(OpenAPISpecPath) {
		c.JSON(http.StatusNotFound, gin.H{"error": "OpenAPI document not found"})
		return
	}
	c.Header("Content-Type", "application/yaml; charset=utf-8")
	c.File(OpenAPISpecPath)
}

func renderPage(c *gin.Context, tmpl *template.Template, data gin.H) {
	c.Status(http.StatusOK)
	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(c.Writer, data); err != nil {
		c.Error(err)
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
