package media

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chai2010/webp"
)

func pngOf(t *testing.T, w, h int) *bytes.Buffer {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 128, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return &buf
}

func readWebP(t *testing.T, s *Storage, url string) image.Image {
	t.Helper()
	name := url[strings.LastIndex(url, "/")+1:]
	data, err := os.ReadFile(filepath.Join(s.Dir(), name))
	if err != nil {
		t.Fatal(err)
	}
	img, err := webp.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("stored file is not webp: %v", err)
	}
	return img
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		in   string
		want Kind
	}{
		{"image/png", KindImage},
		{"audio/webm", KindAudio},
		{"video/mp4", KindVideo},
		{"application/pdf", KindUnknown},
		{"", KindUnknown},
	}
	for _, tt := range tests {
		if got := KindOf(tt.in); got != tt.want {
			t.Errorf("KindOf(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestStorage_SaveImageCapsSize(t *testing.T) {
	s, err := NewStorage(t.TempDir(), "http://localhost:3001/")
	if err != nil {
		t.Fatal(err)
	}
	url, err := s.SaveImage(pngOf(t, 2000, 1000))
	if err != nil {
		t.Fatalf("SaveImage() error = %v", err)
	}
	if !strings.HasPrefix(url, "http://localhost:3001/uploads/") || !strings.HasSuffix(url, ".webp") {
		t.Errorf("url = %q", url)
	}
	b := readWebP(t, s, url).Bounds()
	if b.Dx() != MaxImageSide || b.Dy() != MaxImageSide/2 {
		t.Errorf("size = %dx%d, want %dx%d", b.Dx(), b.Dy(), MaxImageSide, MaxImageSide/2)
	}
}

func TestStorage_SaveImageKeepsSmall(t *testing.T) {
	s, _ := NewStorage(t.TempDir(), "")
	url, err := s.SaveImage(pngOf(t, 40, 30))
	if err != nil {
		t.Fatal(err)
	}
	if b := readWebP(t, s, url).Bounds(); b.Dx() != 40 || b.Dy() != 30 {
		t.Errorf("size = %dx%d, want 40x30", b.Dx(), b.Dy())
	}
}

func TestStorage_SaveAvatarIsSquare(t *testing.T) {
	s, _ := NewStorage(t.TempDir(), "")
	for _, dims := range [][2]int{{900, 600}, {300, 700}} {
		url, err := s.SaveAvatar(pngOf(t, dims[0], dims[1]))
		if err != nil {
			t.Fatal(err)
		}
		if b := readWebP(t, s, url).Bounds(); b.Dx() != AvatarSide || b.Dy() != AvatarSide {
			t.Errorf("avatar from %v = %dx%d", dims, b.Dx(), b.Dy())
		}
	}
}

func TestStorage_RejectsGarbage(t *testing.T) {
	s, _ := NewStorage(t.TempDir(), "")
	if _, err := s.SaveImage(strings.NewReader("definitely not an image")); !errors.Is(err, ErrDecode) {
		t.Errorf("SaveImage() error = %v, want ErrDecode", err)
	}
}

func TestStorage_SaveRaw(t *testing.T) {
	s, _ := NewStorage(t.TempDir(), "")
	url, err := s.SaveRaw(strings.NewReader("OggS"), KindAudio, "voice.OGG")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(url, ".ogg") {
		t.Errorf("url = %q, want .ogg suffix", url)
	}
	name := url[strings.LastIndex(url, "/")+1:]
	data, _ := os.ReadFile(filepath.Join(s.Dir(), name))
	if string(data) != "OggS" {
		t.Errorf("stored %q", data)
	}
}

func TestAllowedExtension(t *testing.T) {
	cases := []struct {
		kind Kind
		name string
		want bool
	}{
		{KindAudio, "voice.ogg", true},
		{KindAudio, "VOICE.MP3", true},
		{KindVideo, "clip.mov", true},
		{KindAudio, "clip.mov", false},
		{KindAudio, "page.html", false},
		{KindVideo, "logo.svg", false},
		{KindAudio, "noext", false},
		{KindImage, "photo.png", false},
	}
	for _, tc := range cases {
		if got := AllowedExtension(tc.kind, tc.name); got != tc.want {
			t.Errorf("AllowedExtension(%v, %q) = %v, want %v", tc.kind, tc.name, got, tc.want)
		}
	}
}

func TestStorage_SaveRawRejectsScriptableExtension(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewStorage(dir, "")
	if _, err := s.SaveRaw(strings.NewReader("<script>alert(1)</script>"), KindAudio, "x.html"); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("SaveRaw(x.html) error = %v, want ErrUnsupported", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("files written: %d, want 0", len(entries))
	}
}
