// Package media normalises uploads before they are written to disk:
// images become size-capped WebP files, audio and video are stored as sent.
package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/chai2010/webp"
	"github.com/google/uuid"
	"github.com/nfnt/resize"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	MaxImageSide = 1280
	AvatarSide   = 512
	webpQuality  = 80
)

var (
	ErrUnsupported = errors.New("unsupported media type")
	ErrDecode      = errors.New("cannot decode image")
)

// Kind groups content types by how they are stored.
type Kind int

const (
	KindUnknown Kind = iota
	KindImage
	KindAudio
	KindVideo
)

// KindOf classifies a MIME content type.
func KindOf(contentType string) Kind {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return KindImage
	case strings.HasPrefix(contentType, "audio/"):
		return KindAudio
	case strings.HasPrefix(contentType, "video/"):
		return KindVideo
	}
	return KindUnknown
}

// Storage writes derivatives under dir and serves them under baseURL.
type Storage struct {
	dir     string
	baseURL string
}

// NewStorage creates dir if needed.
func NewStorage(dir, baseURL string) (*Storage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Storage{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Dir is the directory files are written to.
func (s *Storage) Dir() string { return s.dir }

// SaveImage stores an image as WebP, shrunk to fit MaxImageSide.
func (s *Storage) SaveImage(r io.Reader) (string, error) {
	img, err := decode(r)
	if err != nil {
		return "", err
	}
	b := img.Bounds()
	if b.Dx() > MaxImageSide || b.Dy() > MaxImageSide {
		img = resize.Thumbnail(MaxImageSide, MaxImageSide, img, resize.Lanczos3)
	}
	return s.writeWebP(img)
}

// SaveAvatar stores a square AvatarSide WebP centre crop.
func (s *Storage) SaveAvatar(r io.Reader) (string, error) {
	img, err := decode(r)
	if err != nil {
		return "", err
	}
	return s.writeWebP(SquareCrop(img, AvatarSide))
}

// Extensions accepted for files stored as sent.
var allowedExts = map[Kind][]string{
	KindAudio: {".mp3", ".wav", ".ogg", ".m4a", ".webm", ".aac"},
	KindVideo: {".mp4", ".webm", ".mov"},
}

// AllowedExtension reports whether filename carries an extension that may be
// stored for kind.
func AllowedExtension(kind Kind, filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, e := range allowedExts[kind] {
		if ext == e {
			return true
		}
	}
	return false
}

// SaveRaw stores audio or video bytes unchanged under the lower-cased
// extension of filename, which must be on the allowlist for kind.
func (s *Storage) SaveRaw(r io.Reader, kind Kind, filename string) (string, error) {
	if !AllowedExtension(kind, filename) {
		return "", ErrUnsupported
	}
	ext := strings.ToLower(filepath.Ext(filename))
	name := uuid.NewString() + ext
	f, err := os.Create(filepath.Join(s.dir, name))
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return "", err
	}
	return s.url(name), nil
}

func (s *Storage) writeWebP(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, &webp.Options{Quality: webpQuality}); err != nil {
		return "", fmt.Errorf("failed to encode image to WebP: %w", err)
	}
	name := uuid.NewString() + ".webp"
	if err := os.WriteFile(filepath.Join(s.dir, name), buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("failed to save WebP image: %w", err)
	}
	return s.url(name), nil
}

func (s *Storage) url(name string) string {
	return s.baseURL + "/uploads/" + name
}

func decode(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return img, nil
}

// SquareCrop scales img so its short side is side pixels and cuts the
// centred side x side square out of it.
func SquareCrop(img image.Image, side int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	var scaled image.Image
	if w < h {
		scaled = resize.Resize(uint(side), 0, img, resize.Lanczos3)
	} else {
		scaled = resize.Resize(0, uint(side), img, resize.Lanczos3)
	}

	sb := scaled.Bounds()
	x := sb.Min.X + (sb.Dx()-side)/2
	y := sb.Min.Y + (sb.Dy()-side)/2
	if x < sb.Min.X {
		x = sb.Min.X
	}
	if y < sb.Min.Y {
		y = sb.Min.Y
	}

	dst := image.NewRGBA(image.Rect(0, 0, side, side))
	draw.Draw(dst, dst.Bounds(), scaled, image.Pt(x, y), draw.Src)
	return dst
}
