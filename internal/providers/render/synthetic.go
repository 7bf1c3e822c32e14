package render

import (
	"bytes"
	"crypto/sha256"
	"image"
	"image/color"
	"image/png"
)

// Synthetic renders a deterministic placeholder asset for the request.
// The sha of the job id and prompt seeds the palette, so repeated runs
// of the same job produce identical bytes.
func Synthetic(req Request) Result {
	seed := sha256.Sum256([]byte(req.JobID + "\x00" + req.Prompt))
	width, height := aspectDimensions(req.AspectRatio)
	return Result{
		MIME:      "image/png",
		Data:      renderGradient(width, height, seed),
		ThumbData: renderGradient(width/4, height/4, seed),
	}
}

func aspectDimensions(aspect string) (int, int) {
	switch aspect {
	case "16:9":
		return 1280, 720
	case "9:16":
		return 720, 1280
	case "4:3":
		return 1024, 768
	case "3:4":
		return 768, 1024
	default:
		return 1024, 1024
	}
}

func renderGradient(width, height int, seed [32]byte) []byte {
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	base := color.RGBA{R: seed[0], G: seed[1], B: seed[2], A: 255}
	accent := color.RGBA{R: seed[3], G: seed[4], B: seed[5], A: 255}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			t := float64(x+y) / float64(width+height)
			img.SetRGBA(x, y, color.RGBA{
				R: lerp(base.R, accent.R, t),
				G: lerp(base.G, accent.G, t),
				B: lerp(base.B, accent.B, t),
				A: 255,
			})
		}
	}
	buf := &bytes.Buffer{}
	_ = png.Encode(buf, img)
	return buf.Bytes()
}

func lerp(a, b uint8, t float64) uint8 {
	return uint8(float64(a) + (float64(b)-float64(a))*t)
}
