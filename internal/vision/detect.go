package vision

import (
	"fmt"
	"image"
	"math"
	"sort"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Detection is a face found by the detector, in source-image pixels.
type Detection struct {
	BBox       [4]float32 // x1, y1, x2, y2
	Confidence float32
	Landmarks  [5][2]float32 // eyes, nose, mouth corners
}

func (d Detection) Area() float32 {
	return (d.BBox[2] - d.BBox[0]) * (d.BBox[3] - d.BBox[1])
}

// Detector runs RetinaFace (det_10g) face detection. Run calls share the
// bound tensors, so Detect is serialized.
type Detector struct {
	mu            sync.Mutex
	session       *ort.AdvancedSession
	inputTensor   *ort.Tensor[float32]
	outputTensors []*ort.Tensor[float32]
	threshold     float32
	inputW        int
	inputH        int
}

var strides = []int{8, 16, 32}

const (
	anchorsPerStride = 2
	nmsIoU           = 0.4
)

// det_10g output tensors, in score/bbox/landmark order per stride.
// Anchor counts are (640/stride)^2 * 2.
var detectorOutputs = []struct {
	name  string
	shape ort.Shape
}{
	{"448", ort.NewShape(12800, 1)},
	{"471", ort.NewShape(3200, 1)},
	{"494", ort.NewShape(800, 1)},
	{"451", ort.NewShape(12800, 4)},
	{"474", ort.NewShape(3200, 4)},
	{"497", ort.NewShape(800, 4)},
	{"454", ort.NewShape(12800, 10)},
	{"477", ort.NewShape(3200, 10)},
	{"500", ort.NewShape(800, 10)},
}

// NewDetector loads the RetinaFace ONNX model.
func NewDetector(modelPath string, threshold float32) (*Detector, error) {
	inputW, inputH := 640, 640

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(inputH), int64(inputW)))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	d := &Detector{inputTensor: inputTensor, threshold: threshold, inputW: inputW, inputH: inputH}

	names := make([]string, len(detectorOutputs))
	values := make([]ort.Value, len(detectorOutputs))
	for i, out := range detectorOutputs {
		t, err := ort.NewEmptyTensor[float32](out.shape)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("create output tensor %s: %w", out.name, err)
		}
		names[i] = out.name
		values[i] = t
		d.outputTensors = append(d.outputTensors, t)
	}

	d.session, err = ort.NewAdvancedSession(modelPath,
		[]string{"input.1"}, names,
		[]ort.Value{inputTensor}, values,
		nil,
	)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("create detector session: %w", err)
	}
	return d, nil
}

// Detect finds faces in img, highest confidence first.
func (d *Detector) Detect(img image.Image) ([]Detection, error) {
	bounds := img.Bounds()
	input := toCHW(img, d.inputW, d.inputH, [3]float32{127.5, 127.5, 127.5}, [3]float32{128, 128, 128})

	d.mu.Lock()
	defer d.mu.Unlock()

	copy(d.inputTensor.GetData(), input)
	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}
	return nms(d.decode(bounds.Dx(), bounds.Dy()), nmsIoU), nil
}

// decode turns anchor-relative outputs into pixel boxes.
func (d *Detector) decode(origW, origH int) []Detection {
	var out []Detection
	scaleW := float32(origW) / float32(d.inputW)
	scaleH := float32(origH) / float32(d.inputH)

	for si, stride := range strides {
		scores := d.outputTensors[si].GetData()
		boxes := d.outputTensors[si+3].GetData()
		marks := d.outputTensors[si+6].GetData()
		st := float32(stride)

		idx := 0
		for cy := 0; cy < d.inputH/stride; cy++ {
			for cx := 0; cx < d.inputW/stride; cx++ {
				for a := 0; a < anchorsPerStride; a++ {
					if scores[idx] >= d.threshold {
						ax, ay := float32(cx)*st, float32(cy)*st
						det := Detection{
							BBox: [4]float32{
								clampF((ax-boxes[idx*4+0]*st)*scaleW, 0, float32(origW)),
								clampF((ay-boxes[idx*4+1]*st)*scaleH, 0, float32(origH)),
								clampF((ax+boxes[idx*4+2]*st)*scaleW, 0, float32(origW)),
								clampF((ay+boxes[idx*4+3]*st)*scaleH, 0, float32(origH)),
							},
							Confidence: scores[idx],
						}
						for li := 0; li < 5; li++ {
							det.Landmarks[li][0] = (ax + marks[idx*10+li*2]*st) * scaleW
							det.Landmarks[li][1] = (ay + marks[idx*10+li*2+1]*st) * scaleH
						}
						out = append(out, det)
					}
					idx++
				}
			}
		}
	}
	return out
}

func (d *Detector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
	}
	for _, t := range d.outputTensors {
		t.Destroy()
	}
}

// nms keeps the most confident box of every overlapping group.
func nms(dets []Detection, iouThreshold float32) []Detection {
	sort.Slice(dets, func(i, j int) bool { return dets[i].Confidence > dets[j].Confidence })

	var kept []Detection
	for _, d := range dets {
		suppressed := false
		for _, k := range kept {
			if iou(k.BBox, d.BBox) > iouThreshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, d)
		}
	}
	return kept
}

func iou(a, b [4]float32) float32 {
	x1 := math.Max(float64(a[0]), float64(b[0]))
	y1 := math.Max(float64(a[1]), float64(b[1]))
	x2 := math.Min(float64(a[2]), float64(b[2]))
	y2 := math.Min(float64(a[3]), float64(b[3]))

	inter := float32(math.Max(0, x2-x1) * math.Max(0, y2-y1))
	union := (a[2]-a[0])*(a[3]-a[1]) + (b[2]-b[0])*(b[3]-b[1]) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func clampF(v, lo, hi float32) float32 {
	return max(lo, min(v, hi))
}
