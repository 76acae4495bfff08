package api

import (
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"example.com/backstage/services/provenance/handlers"
	"example.com/backstage/services/provenance/internal/objectstore"
)

// upload stores the multipart "file" and returns its content URI
func (s *Server) upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		WriteError(c, NewValidationError("file is required"))
		return
	}

	src, closeFn, err := openSource(file)
	if err != nil {
		WriteError(c, err)
		return
	}
	defer closeFn()

	obj, err := s.services.Uploader.Upload(c.Request.Context(), src)
	if err != nil {
		WriteError(c, err)
		return
	}

	c.JSON(http.StatusCreated, obj)
}

// uploadViews stores "first_view" and "second_view" together
func (s *Server) uploadViews(c *gin.Context) {
	first, err := c.FormFile("first_view")
	if err != nil {
		WriteError(c, NewValidationError("first_view is required"))
		return
	}
	second, err := c.FormFile("second_view")
	if err != nil {
		WriteError(c, NewValidationError("second_view is required"))
		return
	}

	firstSrc, closeFirst, err := openSource(first)
	if err != nil {
		WriteError(c, err)
		return
	}
	defer closeFirst()

	secondSrc, closeSecond, err := openSource(second)
	if err != nil {
		WriteError(c, err)
		return
	}
	defer closeSecond()

	views, err := s.services.Uploader.UploadViews(c.Request.Context(), firstSrc, secondSrc)
	if err != nil {
		WriteError(c, err)
		return
	}

	c.JSON(http.StatusCreated, views)
}

func openSource(header *multipart.FileHeader) (objectstore.Source, func(), error) {
	f, err := header.Open()
	if err != nil {
		return objectstore.Source{}, nil, err
	}
	return objectstore.Source{
		Reader:      f,
		ContentType: header.Header.Get("Content-Type"),
	}, func() { _ = f.Close() }, nil
}

// checkIntegrity compares current images of a batch with its baselines
func (s *Server) checkIntegrity(c *gin.Context) {
	var cmd handlers.IntegrityCheckCommand
	if err := c.ShouldBindJSON(&cmd); err != nil {
		WriteError(c, NewValidationError(err.Error()))
		return
	}
	cmd.BatchID = c.Param("id")

	result, err := s.services.Integrity.HandleIntegrityCheck(c.Request.Context(), cmd)
	if err != nil {
		WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
