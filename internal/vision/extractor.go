package vision

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"math"
	"path/filepath"
	"time"

	"github.com/your-org/visage/internal/config"
	"github.com/your-org/visage/internal/identity"
	"github.com/your-org/visage/internal/models"
	"github.com/your-org/visage/internal/observability"
)

type faceDetector interface {
	Detect(img image.Image) ([]Detection, error)
}

type faceEmbedder interface {
	Embed(face image.Image) ([]float32, error)
}

// Extractor turns an uploaded image into one face embedding. It picks the
// largest face above the confidence floor, breaking ties by distance to the
// image centre.
type Extractor struct {
	detector      faceDetector
	embedder      faceEmbedder
	minConfidence float32
	maxBytes      int64
	closers       []func()
}

// NewExtractor loads the ONNX models from cfg.ModelsDir. The ONNX runtime
// must already be initialized.
func NewExtractor(cfg config.VisionConfig, dimension int) (*Extractor, error) {
	detPath := filepath.Join(cfg.ModelsDir, "det_10g.onnx")
	embPath := filepath.Join(cfg.ModelsDir, "w600k_r50.onnx")

	slog.Info("loading detection model", "path", detPath)
	det, err := NewDetector(detPath, float32(cfg.DetectionThreshold))
	if err != nil {
		return nil, fmt.Errorf("load detector: %w", err)
	}

	slog.Info("loading embedding model", "path", embPath)
	emb, err := NewEmbedder(embPath)
	if err != nil {
		det.Close()
		return nil, fmt.Errorf("load embedder: %w", err)
	}
	if emb.Dimension() != dimension {
		det.Close()
		emb.Close()
		return nil, fmt.Errorf("embedding model produces %d dims, store expects %d: %w",
			emb.Dimension(), dimension, identity.ErrDimensionMismatch)
	}

	x := newExtractor(det, emb, cfg)
	x.closers = []func(){det.Close, emb.Close}
	return x, nil
}

func newExtractor(det faceDetector, emb faceEmbedder, cfg config.VisionConfig) *Extractor {
	return &Extractor{
		detector:      det,
		embedder:      emb,
		minConfidence: float32(cfg.MinConfidence),
		maxBytes:      cfg.MaxImageBytes,
	}
}

// Extract implements identity.Extractor.
func (x *Extractor) Extract(ctx context.Context, data []byte) (*models.Detection, error) {
	img, err := Decode(data, x.maxBytes)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	dets, err := x.detector.Detect(img)
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}
	observability.StageDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())

	best, ok := selectFace(dets, img.Bounds(), x.minConfidence)
	if !ok {
		return nil, identity.ErrNoFaceDetected
	}

	crop := cropFace(img, best.BBox)
	if crop == nil {
		return nil, identity.ErrNoFaceDetected
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start = time.Now()
	vec, err := x.embedder.Embed(crop)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	observability.StageDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds())

	cropJPEG, err := encodeJPEG(crop, 90)
	if err != nil {
		slog.Warn("encode face crop", "error", err)
	}

	return &models.Detection{
		Vector:     vec,
		BBox:       toBBox(best.BBox),
		Confidence: float64(best.Confidence),
		Crop:       cropJPEG,
	}, nil
}

func (x *Extractor) Close() {
	for _, c := range x.closers {
		c()
	}
}

// selectFace returns the largest detection at or above minConfidence.
// Equal areas go to the one nearest the image centre.
func selectFace(dets []Detection, bounds image.Rectangle, minConfidence float32) (Detection, bool) {
	cx := float64(bounds.Min.X+bounds.Max.X) / 2
	cy := float64(bounds.Min.Y+bounds.Max.Y) / 2
	centreDist := func(d Detection) float64 {
		dx := float64(d.BBox[0]+d.BBox[2])/2 - cx
		dy := float64(d.BBox[1]+d.BBox[3])/2 - cy
		return math.Hypot(dx, dy)
	}

	var best Detection
	found := false
	for _, d := range dets {
		if d.Confidence < minConfidence || d.Area() <= 0 {
			continue
		}
		if !found || d.Area() > best.Area() || (d.Area() == best.Area() && centreDist(d) < centreDist(best)) {
			best, found = d, true
		}
	}
	return best, found
}

func toBBox(b [4]float32) models.BBox {
	x := max(int(math.Floor(float64(b[0]))), 0)
	y := max(int(math.Floor(float64(b[1]))), 0)
	w := int(math.Ceil(float64(b[2]))) - x
	h := int(math.Ceil(float64(b[3]))) - y
	return models.BBox{X: x, Y: y, Width: max(w, 1), Height: max(h, 1)}
}
