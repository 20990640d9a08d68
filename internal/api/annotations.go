package api

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/tphakala/fieldpin/internal/errors"
	"github.com/tphakala/fieldpin/internal/geom"
	"github.com/tphakala/fieldpin/internal/logger"
	"github.com/tphakala/fieldpin/internal/model"
)

// annotationRequest is the body of annotation create and update requests.
// Position is in anchor-local coordinates.
type annotationRequest struct {
	ID           string    `json:"id"`
	Text         string    `json:"text"`
	CategoryName string    `json:"categoryName"`
	Position     geom.Vec3 `json:"position"`
}

func (r annotationRequest) annotation(id, container string) (model.Annotation, error) {
	if strings.TrimSpace(r.Text) == "" {
		return model.Annotation{}, errors.ValidationError("annotation text is required")
	}
	return model.Annotation{
		ID:            id,
		ContainerName: container,
		CategoryName:  r.CategoryName,
		Text:          r.Text,
		Position:      r.Position,
	}, nil
}

func (s *Server) listAnnotations(c echo.Context) error {
	list, err := s.annotations.List(c.Request().Context(), c.Param("container"))
	if err != nil {
		return s.handleError(c, err, "Failed to list annotations")
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) createAnnotation(c echo.Context) error {
	var req annotationRequest
	if err := c.Bind(&req); err != nil {
		return s.handleError(c, badRequest("invalid annotation body: %v", err), "Invalid request")
	}
	ctx := c.Request().Context()
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	} else if _, err := s.annotations.Get(ctx, id); err == nil {
		return s.handleError(c, errors.Newf("annotation %s already exists", id).
			Component("api").
			Category(errors.CategoryConflict).
			Build(), "Annotation already exists")
	} else if !errors.IsNotFound(err) {
		return s.handleError(c, err, "Failed to create annotation")
	}
	a, err := req.annotation(id, c.Param("container"))
	if err != nil {
		return s.handleError(c, err, "Invalid annotation")
	}
	if err := s.annotations.Create(ctx, a); err != nil {
		return s.handleError(c, err, "Failed to create annotation")
	}
	return c.JSON(http.StatusCreated, a.Normalized())
}

func (s *Server) getAnnotation(c echo.Context) error {
	a, err := s.annotations.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.handleError(c, err, "Failed to get annotation")
	}
	return c.JSON(http.StatusOK, a)
}

// updateAnnotation overwrites text, category and position. The container is
// kept from the stored annotation.
func (s *Server) updateAnnotation(c echo.Context) error {
	ctx := c.Request().Context()
	current, err := s.annotations.Get(ctx, c.Param("id"))
	if err != nil {
		return s.handleError(c, err, "Failed to get annotation")
	}
	var req annotationRequest
	if err := c.Bind(&req); err != nil {
		return s.handleError(c, badRequest("invalid annotation body: %v", err), "Invalid request")
	}
	a, err := req.annotation(current.ID, current.ContainerName)
	if err != nil {
		return s.handleError(c, err, "Invalid annotation")
	}
	if err := s.annotations.Update(ctx, a); err != nil {
		return s.handleError(c, err, "Failed to update annotation")
	}
	return c.JSON(http.StatusOK, a.Normalized())
}

func (s *Server) deleteAnnotation(c echo.Context) error {
	if err := s.annotations.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return s.handleError(c, err, "Failed to delete annotation")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) getDetails(c echo.Context) error {
	info, err := s.annotations.DetailedInfo(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.handleError(c, err, "Failed to get detailed info")
	}
	return c.JSON(http.StatusOK, info)
}

func (s *Server) saveDetails(c echo.Context) error {
	var info model.DetailedInfo
	if err := c.Bind(&info); err != nil {
		return s.handleError(c, badRequest("invalid detailed info body: %v", err), "Invalid request")
	}
	info.ID = c.Param("id")
	if err := s.annotations.SaveDetailedInfo(c.Request().Context(), info); err != nil {
		return s.handleError(c, err, "Failed to save detailed info")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) removeDetailStep(c echo.Context) error {
	step, err := intParam(c, "step")
	if err != nil {
		return s.handleError(c, err, "Invalid request")
	}
	if err := s.annotations.RemoveStep(c.Request().Context(), c.Param("id"), step); err != nil {
		return s.handleError(c, err, "Failed to remove step")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) addDetailMedia(c echo.Context) error {
	step, err := intParam(c, "step")
	if err != nil {
		return s.handleError(c, err, "Invalid request")
	}
	path, cleanup, err := s.receiveUpload(c)
	if err != nil {
		return s.handleError(c, err, "Invalid upload")
	}
	defer cleanup()

	url, err := s.annotations.AddStepMedia(c.Request().Context(), c.Param("id"), step, path)
	if err != nil {
		return s.handleError(c, err, "Failed to add media")
	}
	return c.JSON(http.StatusCreated, map[string]string{"url": url})
}

func (s *Server) removeDetailMedia(c echo.Context) error {
	step, err := intParam(c, "step")
	if err != nil {
		return s.handleError(c, err, "Invalid request")
	}
	media, err := intParam(c, "media")
	if err != nil {
		return s.handleError(c, err, "Invalid request")
	}
	if err := s.annotations.RemoveStepMedia(c.Request().Context(), c.Param("id"), step, media); err != nil {
		return s.handleError(c, err, "Failed to remove media")
	}
	return c.NoContent(http.StatusNoContent)
}

// receiveUpload stores the multipart "file" field in a temporary file that
// keeps the original extension, which becomes part of the blob key.
func (s *Server) receiveUpload(c echo.Context) (path string, cleanup func(), err error) {
	fh, err := c.FormFile("file")
	if err != nil {
		return "", nil, badRequest("multipart field \"file\" is required")
	}
	src, err := fh.Open()
	if err != nil {
		return "", nil, badRequest("unreadable upload: %v", err)
	}
	defer src.Close() //nolint:errcheck // read only

	ext := strings.ToLower(filepath.Ext(fh.Filename))
	tmp, err := os.CreateTemp("", "fieldpin-upload-*"+ext)
	if err != nil {
		return "", nil, errors.New(err).
			Component("api").
			Category(errors.CategoryFileIO).
			Context("operation", "create-temp").
			Build()
	}
	cleanup = func() {
		if rmErr := os.Remove(tmp.Name()); rmErr != nil && !os.IsNotExist(rmErr) {
			s.log.Warn("failed to remove upload", logger.String("path", tmp.Name()), logger.Error(rmErr))
		}
	}

	if _, err := io.Copy(tmp, src); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", nil, errors.New(err).
			Component("api").
			Category(errors.CategoryFileIO).
			Context("operation", "write-upload").
			Build()
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", nil, errors.New(err).
			Component("api").
			Category(errors.CategoryFileIO).
			Context("operation", "close-upload").
			Build()
	}
	return tmp.Name(), cleanup, nil
}
