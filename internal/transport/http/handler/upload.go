package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"leilaochat/internal/app"
	"leilaochat/internal/transport/http/response"
)

type UploadHandler struct {
	attachmentService *app.AttachmentService
}

func NewUploadHandler(attachmentService *app.AttachmentService) *UploadHandler {
	return &UploadHandler{attachmentService: attachmentService}
}

// Upload receives multipart form files under the "files" key, forwards
// each to the provider file store and returns the provider-assigned ids.
func (h *UploadHandler) Upload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid multipart payload")
		return
	}

	files := form.File["files"]
	if len(files) == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "no files provided")
		return
	}

	uploaded := make([]app.UploadedFile, 0, len(files))
	for _, fileHeader := range files {
		file, err := fileHeader.Open()
		if err != nil {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "read uploaded file failed")
			return
		}

		result, err := h.attachmentService.Ingest(
			c.Request.Context(),
			fileHeader.Filename,
			fileHeader.Header.Get("Content-Type"),
			file,
		)
		_ = file.Close()
		if err != nil {
			switch {
			case errors.Is(err, app.ErrInvalidInput):
				response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
			default:
				response.Error(c, http.StatusBadGateway, response.CodeInternalServer, "store file failed: "+fileHeader.Filename)
			}
			return
		}
		uploaded = append(uploaded, *result)
	}

	response.OK(c, gin.H{"data": uploaded})
}
