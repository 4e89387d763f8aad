package devbackend

import (
	"embed"
	"io/fs"
	"net/http"

	"github.com/gofiber/template/html/v3"
)

//go:embed views/*.gohtml
var embeddedViews embed.FS

func newViews() (*html.Engine, error) {
	sub, err := fs.Sub(embeddedViews, "views")
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	return html.NewFileSystem(http.FS(sub), ".gohtml"), nil
}
