package main

import (
	"embed"
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"
)

//go:embed ui/*.html
var uiFS embed.FS

func loadTemplates(r *gin.Engine) error {
	t, err := template.New("").Funcs(template.FuncMap{
		"pct": func(f float64) int { return int(f*100 + 0.5) },
	}).ParseFS(uiFS, "ui/*.html")
	if err != nil {
		return err
	}
	r.SetHTMLTemplate(t)
	return nil
}

// publicAnalyzeHandler analyzes an uploaded image without storing anything.
func publicAnalyzeHandler(c *gin.Context) {
	_, data, ok := readUpload(c)
	if !ok {
		return
	}
	rep, err := az.Analyze(c.Request.Context(), data)
	if err != nil {
		c.JSON(analyzeStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rep)
}

func indexPageHandler(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", gin.H{"Engine": az.EngineName()})
}

// analyzePageHandler renders the upload form together with the analysis.
func analyzePageHandler(c *gin.Context) {
	view := gin.H{"Engine": az.EngineName()}
	name, data, uerr := parseUpload(c)
	if uerr != nil {
		view["Error"] = uerr.msg
		c.HTML(uerr.status, "index.html", view)
		return
	}
	view["FileName"] = name
	rep, err := az.Analyze(c.Request.Context(), data)
	if err != nil {
		view["Error"] = err.Error()
		c.HTML(analyzeStatus(err), "index.html", view)
		return
	}
	view["Report"] = rep
	c.HTML(http.StatusOK, "index.html", view)
}
