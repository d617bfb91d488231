package data

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ImageFolderConfig sets the target geometry every image is resized to.
type ImageFolderConfig struct {
	Height   int
	Width    int
	Channels int // 1 (grayscale) or 3 (RGB)
}

// ImageFolder is an on-disk dataset laid out as category-named
// subdirectories of image files:
//
//	root/
//	  daisy/     001.jpg 002.jpg ...
//	  dandelion/ 001.jpg ...
//	  rose/      ...
//
// Classes are the subdirectory names in lexical order. Images are decoded,
// bilinearly resized to the configured geometry and normalized to [0, 1]
// lazily on Sample, so the pipeline's parallel map stage does the decoding
// work across workers.
type ImageFolder struct {
	cfg     ImageFolderConfig
	classes []string
	paths   []string
	labels  []int
}

// OpenImageFolder scans root and indexes every .jpg/.jpeg/.png file found in
// its immediate subdirectories.
func OpenImageFolder(root string, cfg ImageFolderConfig) (*ImageFolder, error) {
	if cfg.Height <= 0 || cfg.Width <= 0 {
		return nil, fmt.Errorf("data: invalid target size %dx%d", cfg.Height, cfg.Width)
	}
	if cfg.Channels != 1 && cfg.Channels != 3 {
		return nil, fmt.Errorf("data: channels must be 1 or 3, got %d", cfg.Channels)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("data: open image folder: %w", err)
	}

	var classes []string
	for _, e := range entries {
		if e.IsDir() {
			classes = append(classes, e.Name())
		}
	}
	if len(classes) < 2 {
		return nil, fmt.Errorf("data: image folder %s has %d class directories, need at least 2",
			root, len(classes))
	}
	sort.Strings(classes)

	folder := &ImageFolder{cfg: cfg, classes: classes}
	for label, class := range classes {
		files, err := os.ReadDir(filepath.Join(root, class))
		if err != nil {
			return nil, fmt.Errorf("data: scan class %s: %w", class, err)
		}
		for _, f := range files {
			if f.IsDir() || !isImageFile(f.Name()) {
				continue
			}
			folder.paths = append(folder.paths, filepath.Join(root, class, f.Name()))
			folder.labels = append(folder.labels, label)
		}
	}
	if len(folder.paths) == 0 {
		return nil, fmt.Errorf("data: image folder %s contains no images", root)
	}
	return folder, nil
}

func isImageFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}

// Len returns the number of indexed images.
func (f *ImageFolder) Len() int { return len(f.paths) }

// Bounds returns the configured target geometry.
func (f *ImageFolder) Bounds() (int, int, int) {
	return f.cfg.Height, f.cfg.Width, f.cfg.Channels
}

// NumClasses returns the number of class directories.
func (f *ImageFolder) NumClasses() int { return len(f.classes) }

// Classes returns the class names in label order.
func (f *ImageFolder) Classes() []string { return f.classes }

// Sample decodes, resizes and normalizes image i.
func (f *ImageFolder) Sample(i int) (Sample, error) {
	if i < 0 || i >= len(f.paths) {
		return Sample{}, fmt.Errorf("data: index %d outside [0, %d)", i, len(f.paths))
	}
	file, err := os.Open(f.paths[i])
	if err != nil {
		return Sample{}, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return Sample{}, fmt.Errorf("data: decode %s: %w", f.paths[i], err)
	}

	return Sample{
		Pixels: resizeNormalize(img, f.cfg.Height, f.cfg.Width, f.cfg.Channels),
		Label:  f.labels[i],
	}, nil
}

// resizeNormalize bilinearly samples img onto an outH×outW grid and scales
// the 16-bit color values into [0, 1]. For single-channel output the RGB
// values are averaged.
func resizeNormalize(img image.Image, outH, outW, channels int) []float32 {
	bounds := img.Bounds()
	srcW := bounds.Dx()
	srcH := bounds.Dy()
	out := make([]float32, outH*outW*channels)

	for oy := 0; oy < outH; oy++ {
		// Map output pixel centers onto the source grid.
		fy := (float64(oy)+0.5)*float64(srcH)/float64(outH) - 0.5
		y0, wy := splitCoord(fy, srcH)
		for ox := 0; ox < outW; ox++ {
			fx := (float64(ox)+0.5)*float64(srcW)/float64(outW) - 0.5
			x0, wx := splitCoord(fx, srcW)

			var r, g, b float64
			for _, s := range [4]struct {
				dx, dy int
				w      float64
			}{
				{0, 0, (1 - wx) * (1 - wy)},
				{1, 0, wx * (1 - wy)},
				{0, 1, (1 - wx) * wy},
				{1, 1, wx * wy},
			} {
				px := clampInt(x0+s.dx, 0, srcW-1)
				py := clampInt(y0+s.dy, 0, srcH-1)
				pr, pg, pb, _ := img.At(bounds.Min.X+px, bounds.Min.Y+py).RGBA()
				r += s.w * float64(pr)
				g += s.w * float64(pg)
				b += s.w * float64(pb)
			}

			base := (oy*outW + ox) * channels
			if channels == 1 {
				out[base] = float32((r + g + b) / (3 * 65535))
			} else {
				out[base] = float32(r / 65535)
				out[base+1] = float32(g / 65535)
				out[base+2] = float32(b / 65535)
			}
		}
	}
	return out
}

// splitCoord splits a fractional source coordinate into its integer base and
// interpolation weight, clamping the base into the valid range.
func splitCoord(f float64, size int) (int, float64) {
	if f < 0 {
		return 0, 0
	}
	i := int(f)
	if i >= size-1 {
		return size - 1, 0
	}
	return i, f - float64(i)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
