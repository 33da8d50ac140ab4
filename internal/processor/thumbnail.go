package processor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"time"

	_ "image/gif"
	_ "image/jpeg"

	"github.com/rs/zerolog/log"

	"docflow/internal/aws"
	"docflow/internal/database"
	"docflow/internal/faults"
	"docflow/internal/model"
)

// thumbnailSizes maps the size label to the bounding-box edge in pixels.
var thumbnailSizes = map[string]int{
	"small":  128,
	"medium": 256,
	"large":  512,
}

// ThumbnailProcessor renders a PNG preview of raster documents. The output
// key is deterministic per (document, size) so a retry overwrites the
// previous upload instead of accumulating objects.
type ThumbnailProcessor struct {
	store   database.Store
	objects aws.ObjectStore
}

func NewThumbnailProcessor(store database.Store, objects aws.ObjectStore) *ThumbnailProcessor {
	return &ThumbnailProcessor{store: store, objects: objects}
}

func (p *ThumbnailProcessor) Name() string {
	return "thumbnail"
}

func (p *ThumbnailProcessor) Process(ctx context.Context, job *model.ProcessingJob, progress ProgressFunc) (map[string]interface{}, error) {
	doc, err := p.store.GetDocument(ctx, job.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", job.DocumentID, err)
	}

	size := stringParam(job.InputParams, "size")
	if size == "" {
		size = "medium"
	}
	edge, ok := thumbnailSizes[size]
	if !ok {
		return nil, faults.Permanentf("invalid thumbnail size %q", size)
	}
	progress(10)

	s3Key := stringParam(job.InputParams, "s3Key")
	if s3Key == "" {
		s3Key = doc.S3Key
	}

	data, err := p.objects.GetObjectBytes(ctx, s3Key)
	if err != nil {
		return nil, fmt.Errorf("download source %s: %w", s3Key, err)
	}
	progress(30)

	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, faults.Permanentf("unsupported or corrupt image (%s): %v", doc.MimeType, err)
	}

	thumb := scaleToFit(src, edge)
	progress(60)

	var buf bytes.Buffer
	if err := png.Encode(&buf, thumb); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}

	key := thumbnailKey(job.OrganizationID, doc.ID, size)
	if err := p.objects.UploadBuffer(ctx, key, buf.Bytes(), "image/png"); err != nil {
		return nil, fmt.Errorf("upload thumbnail %s: %w", key, err)
	}
	progress(85)

	if err := p.store.UpdateDocument(ctx, doc.ID, map[string]interface{}{
		"thumbnail_key": key,
	}); err != nil {
		return nil, fmt.Errorf("persist thumbnail key for document %s: %w", doc.ID, err)
	}
	progress(95)

	bounds := thumb.Bounds()
	log.Info().
		Str("jobID", job.ID).
		Str("documentID", doc.ID).
		Str("key", key).
		Str("sourceFormat", format).
		Int("width", bounds.Dx()).
		Int("height", bounds.Dy()).
		Msg("Thumbnail generated")

	return map[string]interface{}{
		"thumbnailKey": key,
		"size":         size,
		"width":        bounds.Dx(),
		"height":       bounds.Dy(),
		"bytes":        buf.Len(),
		"generatedAt":  time.Now().UTC(),
	}, nil
}

// scaleToFit resizes src so its longer edge equals edge pixels, preserving
// aspect ratio. Images already inside the box pass through unscaled.
func scaleToFit(src image.Image, edge int) image.Image {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= edge && h <= edge {
		return src
	}

	var dw, dh int
	if w >= h {
		dw = edge
		dh = h * edge / w
	} else {
		dh = edge
		dw = w * edge / h
	}
	if dw < 1 {
		dw = 1
	}
	if dh < 1 {
		dh = 1
	}

	return resizeBilinear(src, dw, dh)
}

// resizeBilinear samples the four neighbors of each mapped source point and
// blends them by fractional distance.
func resizeBilinear(src image.Image, dw, dh int) image.Image {
	bounds := src.Bounds()
	sw, sh := bounds.Dx(), bounds.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))

	xRatio := float64(sw-1) / float64(dw)
	yRatio := float64(sh-1) / float64(dh)

	for y := 0; y < dh; y++ {
		sy := float64(y) * yRatio
		y0 := int(sy)
		y1 := y0 + 1
		if y1 >= sh {
			y1 = sh - 1
		}
		fy := sy - float64(y0)

		for x := 0; x < dw; x++ {
			sx := float64(x) * xRatio
			x0 := int(sx)
			x1 := x0 + 1
			if x1 >= sw {
				x1 = sw - 1
			}
			fx := sx - float64(x0)

			r00, g00, b00, a00 := src.At(bounds.Min.X+x0, bounds.Min.Y+y0).RGBA()
			r10, g10, b10, a10 := src.At(bounds.Min.X+x1, bounds.Min.Y+y0).RGBA()
			r01, g01, b01, a01 := src.At(bounds.Min.X+x0, bounds.Min.Y+y1).RGBA()
			r11, g11, b11, a11 := src.At(bounds.Min.X+x1, bounds.Min.Y+y1).RGBA()

			blend := func(c00, c10, c01, c11 uint32) uint8 {
				top := float64(c00)*(1-fx) + float64(c10)*fx
				bot := float64(c01)*(1-fx) + float64(c11)*fx
				return uint8(uint32(top*(1-fy)+bot*fy) >> 8)
			}

			i := dst.PixOffset(x, y)
			dst.Pix[i+0] = blend(r00, r10, r01, r11)
			dst.Pix[i+1] = blend(g00, g10, g01, g11)
			dst.Pix[i+2] = blend(b00, b10, b01, b11)
			dst.Pix[i+3] = blend(a00, a10, a01, a11)
		}
	}

	return dst
}
