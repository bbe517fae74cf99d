package api

import (
	"io"
	"net/http"
	"path"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/loraspect/internal/logger"
	"github.com/samcharles93/loraspect/internal/lora"
)

// DefaultMaxUploadBytes bounds uploaded adapter files.
const DefaultMaxUploadBytes int64 = 2 << 30

type Config struct {
	MaxUploadBytes int64
	// FileOptions are applied to every uploaded file.
	FileOptions []lora.Option
	Logger      logger.Logger
}

type Server struct {
	store     *FileStore
	log       logger.Logger
	clock     func() time.Time
	maxUpload int64
	fileOpts  []lora.Option
}

func NewServer(store *FileStore, cfg Config) *Server {
	if store == nil {
		store = NewFileStore()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}
	return &Server{
		store:     store,
		log:       cfg.Logger,
		clock:     time.Now,
		maxUpload: cfg.MaxUploadBytes,
		fileOpts:  append([]lora.Option{lora.WithLogger(cfg.Logger)}, cfg.FileOptions...),
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/files", s.handleUpload)
	e.GET("/v1/files/:id", s.handleGetFile)
	e.DELETE("/v1/files/:id", s.handleDeleteFile)
	e.GET("/v1/files/:id/metadata", s.handleMetadata)
	e.GET("/v1/files/:id/base-names", s.handleBaseNames)
	e.GET("/v1/files/:id/weights/:name/stats", s.handleWeightStats)
}

func (s *Server) handleUpload(c *echo.Context) error {
	name := path.Base(c.QueryParam("filename"))
	if name == "." || name == "/" {
		return writeInspectorError(c, "filename", newInvalidRequest("filename query parameter is required"))
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, s.maxUpload+1))
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if int64(len(body)) > s.maxUpload {
		return writeError(c, http.StatusRequestEntityTooLarge, "invalid_request_error", tooLarge(s.maxUpload), "", "")
	}
	if len(body) == 0 {
		return writeBadRequest(c, "request body is empty")
	}

	f := lora.NewFile(body, name, s.fileOpts...)
	e := s.store.Create(f, len(body), s.clock())
	e.mu.Lock()
	defer e.mu.Unlock()
	obj := describe(e)
	s.log.Info("file uploaded", "id", e.id, "filename", name, "bytes", len(body), "loaded", obj.Loaded)
	return c.JSON(http.StatusOK, obj)
}

// withFile runs fn with the stored file locked.
func (s *Server) withFile(c *echo.Context, fn func(e *entry) error) error {
	id := c.Param("id")
	e, ok := s.store.Get(id)
	if !ok {
		return writeNotFound(c, "file not found")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e)
}

func (s *Server) handleGetFile(c *echo.Context) error {
	return s.withFile(c, func(e *entry) error {
		return c.JSON(http.StatusOK, describe(e))
	})
}

func (s *Server) handleDeleteFile(c *echo.Context) error {
	id := c.Param("id")
	ok, err := s.store.Delete(id)
	if !ok {
		return writeNotFound(c, "file not found")
	}
	if err != nil {
		s.log.Warn("unload failed", "id", id, "error", err)
	}
	return c.JSON(http.StatusOK, DeleteFileResp{ID: id, Object: "file", Deleted: true})
}

func (s *Server) handleMetadata(c *echo.Context) error {
	return s.withFile(c, func(e *entry) error {
		md := e.file.Metadata()
		values := md.Map()
		if values == nil {
			values = map[string]string{}
		}
		return c.JSON(http.StatusOK, MetadataResp{
			ID:       e.id,
			Object:   "metadata",
			Present:  md.Present(),
			Metadata: values,
		})
	})
}

func (s *Server) handleBaseNames(c *echo.Context) error {
	return s.withFile(c, func(e *entry) error {
		if !e.file.IsLoaded() {
			return writeInspectorError(c, "id", lora.ErrWeightsNotLoaded)
		}
		names := e.file.BaseNames()
		if names == nil {
			names = []string{}
		}
		return c.JSON(http.StatusOK, BaseNamesResp{Object: "list", Data: names})
	})
}

func (s *Server) handleWeightStats(c *echo.Context) error {
	return s.withFile(c, func(e *entry) error {
		name := c.Param("name")
		st, err := e.file.Statistics(name)
		if err != nil {
			s.log.Debug("statistics failed", "id", e.id, "name", name, "error", err)
			return writeInspectorError(c, "name", err)
		}
		return c.JSON(http.StatusOK, WeightStatsResp{
			Object:           "weight.statistics",
			FileID:           e.id,
			Name:             name,
			WeightStatistics: st,
		})
	})
}

// Close unloads all stored files.
func (s *Server) Close() error { return s.store.Close() }
