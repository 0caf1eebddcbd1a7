package handlers

import (
	"errors"
	"fmt"
	"mime/multipart"

	"connect/server/internal/media"
	"connect/server/internal/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

const (
	MaxImageSize   = 10 * 1024 * 1024 // 10MB
	MaxMediaSize   = 50 * 1024 * 1024 // 50MB
	MaxAvatarSize  = 5 * 1024 * 1024  // 5MB
	MaxGallerySize = 10
)

// UploadResult describes one stored file
type UploadResult struct {
	URL      string `json:"url"`
	Type     string `json:"type"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

func kindName(k media.Kind) string {
	switch k {
	case media.KindImage:
		return "image"
	case media.KindAudio:
		return "audio"
	case media.KindVideo:
		return "video"
	}
	return "file"
}

// save normalises and writes one uploaded file.
func (h *Handler) save(file *multipart.FileHeader) (UploadResult, error) {
	kind := media.KindOf(file.Header.Get("Content-Type"))
	if kind != media.KindImage && !media.AllowedExtension(kind, file.Filename) {
		return UploadResult{}, media.ErrUnsupported
	}
	limit := int64(MaxMediaSize)
	if kind == media.KindImage {
		limit = MaxImageSize
	}
	if file.Size > limit {
		return UploadResult{}, fmt.Errorf("file size exceeds limit of %dMB (uploaded: %.2fMB)", limit>>20, float64(file.Size)/(1024*1024))
	}

	f, err := file.Open()
	if err != nil {
		return UploadResult{}, err
	}
	defer f.Close()

	var url string
	switch kind {
	case media.KindImage:
		url, err = h.media.SaveImage(f)
	case media.KindAudio, media.KindVideo:
		url, err = h.media.SaveRaw(f, kind, file.Filename)
	default:
		return UploadResult{}, media.ErrUnsupported
	}
	if err != nil {
		return UploadResult{}, err
	}
	return UploadResult{URL: url, Type: kindName(kind), Filename: file.Filename, Size: file.Size}, nil
}

func uploadError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, media.ErrUnsupported):
		return fail(c, fiber.StatusBadRequest, "Only images, audio and video can be uploaded")
	case errors.Is(err, media.ErrDecode):
		return fail(c, fiber.StatusBadRequest, "Invalid image")
	}
	log.Error().Err(err).Str("user", middleware.GetUsername(c)).Msg("upload failed")
	return fail(c, fiber.StatusBadRequest, "Upload failed: "+err.Error())
}

// UploadFile stores a single attachment
func (h *Handler) UploadFile(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "No file uploaded")
	}
	res, err := h.save(file)
	if err != nil {
		return uploadError(c, err)
	}
	return ok(c, fiber.StatusCreated, res)
}

// UploadMultiple stores up to MaxGallerySize images for a gallery message
func (h *Handler) UploadMultiple(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "No files uploaded")
	}
	files := form.File["files"]
	if len(files) == 0 {
		return fail(c, fiber.StatusBadRequest, "No files uploaded")
	}
	if len(files) > MaxGallerySize {
		return fail(c, fiber.StatusBadRequest, fmt.Sprintf("At most %d files per upload", MaxGallerySize))
	}

	results := make([]UploadResult, 0, len(files))
	for _, file := range files {
		if media.KindOf(file.Header.Get("Content-Type")) != media.KindImage {
			return fail(c, fiber.StatusBadRequest, "Galleries may only contain images")
		}
		res, err := h.save(file)
		if err != nil {
			return uploadError(c, err)
		}
		results = append(results, res)
	}
	return ok(c, fiber.StatusCreated, results)
}

// UploadAvatar stores a square avatar and makes it the current one
func (h *Handler) UploadAvatar(c *fiber.Ctx) error {
	file, err := c.FormFile("avatar")
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "No avatar uploaded")
	}
	if file.Size > MaxAvatarSize {
		return fail(c, fiber.StatusBadRequest, "Avatar size exceeds limit of 5MB")
	}
	if media.KindOf(file.Header.Get("Content-Type")) != media.KindImage {
		return fail(c, fiber.StatusBadRequest, "Invalid image format")
	}

	f, err := file.Open()
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "Failed to read avatar")
	}
	defer f.Close()

	url, err := h.media.SaveAvatar(f)
	if err != nil {
		return uploadError(c, err)
	}
	profile, err := h.store.AddAvatar(c.UserContext(), middleware.GetUsername(c), url)
	if err != nil {
		log.Error().Err(err).Str("user", middleware.GetUsername(c)).Msg("record avatar")
		return fail(c, fiber.StatusInternalServerError, "Failed to save avatar")
	}
	return ok(c, fiber.StatusCreated, fiber.Map{
		"url":     url,
		"profile": profile,
	})
}
