package server

import (
	"io"

	"cuisine/internal/middleware"
	"cuisine/internal/models"
	"cuisine/internal/service"

	"github.com/gofiber/fiber/v2"
)

// UploadPostImage handles POST /api/posts/images
// @Summary Upload a post image
// @Description Stores one image and returns the key to reference from a post
// @Tags posts
// @Security BearerAuth
// @Accept multipart/form-data
// @Produce json
// @Param image formData file true "Image file"
// @Success 201 {object} service.UploadedImage
// @Failure 400 {object} models.ErrorResponse
// @Router /posts/images [post]
func (s *Server) UploadPostImage(c *fiber.Ctx) error {
	session := middleware.SessionFrom(c)
	file, err := c.FormFile("image")
	if err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("No file uploaded"))
	}

	src, err := file.Open()
	if err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("Unable to read uploaded file"))
	}
	defer func() { _ = src.Close() }()

	content, err := io.ReadAll(src)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("Unable to read uploaded file"))
	}

	uploaded, err := s.imageService.Upload(c.UserContext(), service.UploadImageInput{
		UserID:      session.UserID,
		Filename:    file.Filename,
		ContentType: file.Header.Get("Content-Type"),
		Content:     content,
	})
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(uploaded)
}
