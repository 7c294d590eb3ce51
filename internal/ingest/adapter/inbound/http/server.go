package http_handler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthanhphan/go-file-ingest/internal/ingest/config"
	"github.com/anthanhphan/go-file-ingest/internal/ingest/domain"
	"github.com/anthanhphan/go-file-ingest/internal/ingest/port"
	sdklogger "github.com/anthanhphan/gosdk/logger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
)

const (
	msgServerStarted = "server started"
	msgNoFile        = "No file uploaded."
	msgUploaded      = "File uploaded successfully"
	msgUploadFailed  = "Error uploading file"
)

// StagingArea hands out local paths for incoming file parts.
type StagingArea interface {
	Reserve(originalName string, size int64, declaredContentType string) *domain.UploadedFile
	Release(file *domain.UploadedFile) error
}

type Server struct {
	app     *fiber.App
	cfg     *config.Config
	service port.UploadService
	staging StagingArea
}

func NewServer(cfg *config.Config, service port.UploadService, staging StagingArea) *Server {
	app := fiber.New(fiber.Config{
		BodyLimit:             int(cfg.Upload.MaxFileSize),
		DisableStartupMessage: true,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.Server.CORSAllowOrigins, ","),
	}))
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} ${locals:requestid} ${status} - ${latency} ${method} ${path}\n",
	}))

	s := &Server{
		app:     app,
		cfg:     cfg,
		service: service,
		staging: staging,
	}

	// Routes
	s.registerRoutes()

	return s
}

func (s *Server) registerRoutes() {
	s.app.Get("/", s.handleRoot)
	s.app.Post("/upload", s.handleUpload)
	s.app.Get("/healthz", s.handleHealth)
}

func (s *Server) Start() error {
	return s.app.Listen(fmt.Sprintf(":%d", s.cfg.Server.Port))
}

func (s *Server) Stop(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) handleRoot(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"message": msgServerStarted,
	})
}

func (s *Server) handleUpload(c *fiber.Ctx) error {
	header, err := c.FormFile(s.cfg.Upload.FieldName)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).SendString(msgNoFile)
	}

	file := s.staging.Reserve(header.Filename, header.Size, header.Header.Get(fiber.HeaderContentType))
	if err := c.SaveFile(header, file.StagedPath); err != nil {
		sdklogger.Errorw("Failed to stage upload",
			"request_id", requestID(c),
			"file_name", header.Filename,
			"error", err.Error(),
		)
		if relErr := s.staging.Release(file); relErr != nil {
			sdklogger.Warnw("Failed to release partial staged file", "staged_path", file.StagedPath, "error", relErr.Error())
		}
		return c.Status(fiber.StatusInternalServerError).SendString(msgUploadFailed)
	}

	sdklogger.Infow("Upload received",
		"request_id", requestID(c),
		"file_name", file.OriginalName,
		"size_bytes", file.SizeBytes,
		"state", string(domain.StateReceived),
	)

	if _, err := s.service.Upload(c.UserContext(), file); err != nil {
		sdklogger.Errorw("Upload failed",
			"request_id", requestID(c),
			"file_name", file.OriginalName,
			"error", err.Error(),
		)
		return c.Status(fiber.StatusInternalServerError).SendString(msgUploadFailed)
	}

	return c.Status(fiber.StatusOK).SendString(msgUploaded)
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	report := s.service.Health(c.UserContext())

	status := fiber.StatusOK
	components := make(fiber.Map, len(report))
	for name, err := range report {
		switch {
		case err == nil:
			components[name] = "ok"
		case errors.Is(err, port.ErrBackendDisabled):
			components[name] = "disabled"
		default:
			components[name] = err.Error()
			status = fiber.StatusServiceUnavailable
		}
	}

	return c.Status(status).JSON(fiber.Map{
		"status":     statusText(status),
		"components": components,
	})
}

func statusText(status int) string {
	if status == fiber.StatusOK {
		return "ok"
	}
	return "degraded"
}

func requestID(c *fiber.Ctx) string {
	return c.GetRespHeader(fiber.HeaderXRequestID)
}
