package vision

import (
	"bytes"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// toCHW resizes img and lays it out as normalized [3][h][w] floats:
// (pixel - mean) / std per channel, RGB order.
func toCHW(img image.Image, w, h int, mean, std [3]float32) []float32 {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	plane := w * h
	data := make([]float32, 3*plane)
	for i := 0; i < plane; i++ {
		px := dst.Pix[i*4 : i*4+3]
		data[i] = (float32(px[0]) - mean[0]) / std[0]
		data[plane+i] = (float32(px[1]) - mean[1]) / std[1]
		data[2*plane+i] = (float32(px[2]) - mean[2]) / std[2]
	}
	return data
}

// cropFace cuts the box out of img with 10% padding on each side, clamped to
// the image. It returns nil for an empty box.
func cropFace(img image.Image, box [4]float32) image.Image {
	b := img.Bounds()
	r := image.Rect(int(box[0]), int(box[1]), int(box[2]), int(box[3])).Intersect(b)
	if r.Empty() {
		return nil
	}

	padW, padH := r.Dx()/10, r.Dy()/10
	r = image.Rect(r.Min.X-padW, r.Min.Y-padH, r.Max.X+padW, r.Max.Y+padH).Intersect(b)

	crop := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(crop, crop.Bounds(), img, r.Min, draw.Src)
	return crop
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
