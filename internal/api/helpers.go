package api

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/loraspect/internal/lora"
)

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg, "", "")
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, "not_found_error", msg, "", "")
}

func writeError(c *echo.Context, status int, errType, msg, param, code string) error {
	return c.JSON(status, map[string]any{
		"error": ResponseError{
			Message: msg,
			Type:    errType,
			Code:    code,
			Param:   param,
		},
	})
}

// writeInspectorError reports err with the status its kind maps to.
func writeInspectorError(c *echo.Context, param string, err error) error {
	status, errType := classify(err)
	return writeError(c, status, errType, err.Error(), param, "")
}

// describe summarises f for a FileObject. Failures of individual fields are
// left out rather than failing the request.
func describe(e *entry) FileObject {
	f := e.file
	obj := FileObject{
		ID:        e.id,
		Object:    "file",
		Filename:  f.Filename(),
		Bytes:     e.size,
		CreatedAt: e.created.Unix(),
		Loaded:    f.IsLoaded(),
		Tensors:   len(f.Keys()),
		BaseNames: len(f.BaseNames()),
	}
	if err := f.LoadErr(); err != nil {
		obj.LoadError = err.Error()
	}
	if m, ok := f.Metadata().NetworkModule(); ok {
		obj.NetworkModule = string(m)
	}
	if nt, ok, err := f.NetworkType(); err == nil && ok {
		obj.NetworkType = nt.String()
	}
	if !f.IsLoaded() {
		return obj
	}
	if format, err := f.Format(); err == nil {
		obj.Format = format.String()
	}
	if p, ok, err := f.Precision(); err == nil && ok {
		obj.Precision = p.Precision()
	}
	if dims, err := f.Dims(); err == nil {
		obj.Dims = dims
	}
	if alphas, err := f.Alphas(); err == nil {
		obj.Alphas = alphaStrings(alphas)
	}
	return obj
}

func alphaStrings(set *lora.AlphaSet) []string {
	values := set.Values()
	out := make([]string, 0, len(values))
	for _, a := range values {
		out = append(out, a.String())
	}
	return out
}

func tooLarge(limit int64) string {
	return fmt.Sprintf("request body exceeds %d bytes", limit)
}
