package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif" // Register GIF decoder
	"image/jpeg"
	_ "image/png" // Register PNG decoder
	"log/slog"
	"math"
	"mime"
	"net/http"
	"path"
	"strings"

	"cuisine/internal/models"
	"cuisine/internal/storage"

	"github.com/chai2010/webp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // Register WebP decoder
)

const (
	DefaultImageMaxUploadSizeMB = 10
	MasterMaxSize               = 2048
	ThumbnailSize               = 640
	JPEGQuality                 = 82
	WebPQuality                 = 70
)

// Object names stored under each image's key prefix.
const (
	masterJPEGName    = "master.jpg"
	masterWebPName    = "master.webp"
	thumbnailWebPName = "640.webp"
)

type aspect struct {
	name  string
	ratio float64
}

// postAspects are the crops the feed renders. Square comes first so it wins
// ties.
var postAspects = []aspect{
	{name: "square", ratio: 1},
	{name: "landscape", ratio: 1.91},
	{name: "portrait", ratio: 0.8},
}

// uploadFormats maps decoder names to the MIME type clients declare for them.
var uploadFormats = map[string]string{
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
}

type UploadImageInput struct {
	UserID      uint
	Filename    string
	ContentType string
	Content     []byte
}

// UploadedImage describes a stored post image. Key is what posts reference.
type UploadedImage struct {
	Key          string `json:"key"`
	WebPKey      string `json:"webp_key"`
	ThumbnailKey string `json:"thumbnail_key,omitempty"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	CropMode     string `json:"crop_mode"`
	SizeBytes    int64  `json:"size_bytes"`
}

type ImageService struct {
	blobs              storage.BlobStore
	maxUploadSizeBytes int64
}

func NewImageService(blobs storage.BlobStore, maxUploadSizeMB int) *ImageService {
	if maxUploadSizeMB <= 0 {
		maxUploadSizeMB = DefaultImageMaxUploadSizeMB
	}
	return &ImageService{
		blobs:              blobs,
		maxUploadSizeBytes: int64(maxUploadSizeMB) * 1024 * 1024,
	}
}

// Upload validates, crops and re-encodes an image, then stores a JPEG master,
// a WebP master and, for large images, a WebP thumbnail.
func (s *ImageService) Upload(ctx context.Context, in UploadImageInput) (*UploadedImage, error) {
	if in.UserID == 0 {
		return nil, models.NewValidationError("Invalid user")
	}
	if len(in.Content) == 0 {
		return nil, models.NewValidationError("No file uploaded")
	}
	if int64(len(in.Content)) > s.maxUploadSizeBytes {
		return nil, models.NewValidationError(fmt.Sprintf("File too large (max %dMB)", s.maxUploadSizeBytes/(1024*1024)))
	}

	if !isUploadMIME(mediaType(http.DetectContentType(in.Content))) {
		return nil, models.NewValidationError("Invalid image type")
	}

	decoded, format, err := image.Decode(bytes.NewReader(in.Content))
	if err != nil {
		return nil, models.NewValidationError("Invalid image file")
	}
	sourceType, ok := uploadFormats[format]
	if !ok {
		return nil, models.NewValidationError("Unsupported image format")
	}
	if declared := mediaType(in.ContentType); strings.HasPrefix(declared, "image/") && declared != sourceType {
		return nil, models.NewValidationError("Image content type mismatch")
	}

	cropMode, rect := cropFor(decoded.Bounds())
	master := resizeToFit(crop(decoded, rect), MasterMaxSize)

	encodedMasterJPG, err := encodeJPEG(master)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	encodedMasterWebP, err := encodeWebP(master)
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	prefix := ImageKeyPrefix(in.UserID) + contentHash(in.UserID, encodedMasterJPG) + "/"
	mb := master.Bounds()
	out := &UploadedImage{
		Key:       prefix + masterJPEGName,
		WebPKey:   prefix + masterWebPName,
		Width:     mb.Dx(),
		Height:    mb.Dy(),
		CropMode:  cropMode,
		SizeBytes: int64(len(encodedMasterJPG)),
	}

	objects := []blobObject{
		{key: out.Key, body: encodedMasterJPG, contentType: "image/jpeg"},
		{key: out.WebPKey, body: encodedMasterWebP, contentType: "image/webp"},
	}
	if mb.Dx() > ThumbnailSize || mb.Dy() > ThumbnailSize {
		thumb, err := encodeWebP(resizeToFit(master, ThumbnailSize))
		if err != nil {
			return nil, models.NewInternalError(err)
		}
		out.ThumbnailKey = prefix + thumbnailWebPName
		objects = append(objects, blobObject{key: out.ThumbnailKey, body: thumb, contentType: "image/webp"})
	}

	if err := s.store(ctx, objects); err != nil {
		return nil, models.NewInternalError(err)
	}
	return out, nil
}

type blobObject struct {
	key         string
	body        []byte
	contentType string
}

// store uploads every object or, on failure, removes the ones already written.
func (s *ImageService) store(ctx context.Context, objects []blobObject) error {
	for i, obj := range objects {
		if err := s.blobs.Upload(ctx, obj.key, obj.body, obj.contentType); err != nil {
			for _, done := range objects[:i] {
				if derr := s.blobs.Delete(context.WithoutCancel(ctx), done.key); derr != nil {
					slog.WarnContext(ctx, "cleanup of partial image upload failed",
						slog.String("key", done.key), slog.String("error", derr.Error()))
				}
			}
			return fmt.Errorf("upload %s: %w", obj.key, err)
		}
	}
	return nil
}

// Delete removes a stored image and its derived objects. Missing objects are
// ignored.
func (s *ImageService) Delete(ctx context.Context, key string) error {
	var errs []error
	for _, k := range relatedImageKeys(key) {
		if err := s.blobs.Delete(ctx, k); err != nil && !errors.Is(err, storage.ErrNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// relatedImageKeys expands a master key into every object Upload wrote for it.
func relatedImageKeys(key string) []string {
	if path.Base(key) != masterJPEGName {
		return []string{key}
	}
	dir := path.Dir(key) + "/"
	return []string{key, dir + masterWebPName, dir + thumbnailWebPName}
}

// cropFor picks the post aspect closest to b and returns the centered
// rectangle of b with that aspect.
func cropFor(b image.Rectangle) (string, image.Rectangle) {
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return "free", b
	}

	ratio := float64(w) / float64(h)
	best := postAspects[0]
	for _, a := range postAspects[1:] {
		if math.Abs(ratio-a.ratio) < math.Abs(ratio-best.ratio) {
			best = a
		}
	}

	cw, ch := w, h
	if ratio > best.ratio {
		cw = max(int(float64(h)*best.ratio), 1)
	} else {
		ch = max(int(float64(w)/best.ratio), 1)
	}
	origin := b.Min.Add(image.Pt((w-cw)/2, (h-ch)/2))
	return best.name, image.Rectangle{Min: origin, Max: origin.Add(image.Pt(cw, ch))}
}

func crop(src image.Image, r image.Rectangle) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), src, r.Min, draw.Src)
	return dst
}

// resizeToFit scales src down so neither side exceeds limit.
func resizeToFit(src image.Image, limit int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= limit && h <= limit {
		return src
	}

	scale := float64(limit) / float64(max(w, h))
	dst := image.NewRGBA(image.Rect(0, 0, max(int(float64(w)*scale), 1), max(int(float64(h)*scale), 1)))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, b, xdraw.Over, nil)
	return dst
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality})
	return buf.Bytes(), err
}

func encodeWebP(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	err := webp.Encode(&buf, img, &webp.Options{Quality: WebPQuality})
	return buf.Bytes(), err
}

// mediaType lowercases a Content-Type without parameters and folds the
// non-standard image/jpg into image/jpeg.
func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = contentType
	}
	mt = strings.ToLower(strings.TrimSpace(mt))
	if mt == "image/jpg" {
		return "image/jpeg"
	}
	return mt
}

func isUploadMIME(mt string) bool {
	for _, allowed := range uploadFormats {
		if mt == allowed {
			return true
		}
	}
	return false
}

// contentHash names an upload by owner and encoded bytes, so re-uploading
// the same photo reuses its keys.
func contentHash(userID uint, data []byte) string {
	sum := sha256.Sum256(append(fmt.Appendf(nil, "%d:", userID), data...))
	return hex.EncodeToString(sum[:])
}
