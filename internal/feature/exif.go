package feature

import (
	"os"
	"time"

	"github.com/rwcarlsen/goexif/exif"
)

// exifSubset is the small slice of EXIF tags the Grouping and Escalation
// Engines consult (spec §4.5, §4.8), grounded on the EXIFInfo shape in
// other_examples/HaiderBassem-imaged's pkg/api/types.go.
type exifSubset struct {
	CaptureTime *time.Time
	CameraMake  string
	CameraModel string
	Orientation int
}

// readEXIF extracts the subset of EXIF tags this pipeline needs. A missing
// or unparsable EXIF block is not an error: many PNG/WEBP files carry none,
// and the result then has no capture time and orientation=1.
func readEXIF(path string) exifSubset {
	out := exifSubset{Orientation: 1}

	f, err := os.Open(path)
	if err != nil {
		return out
	}
	defer func() { _ = f.Close() }()

	x, err := exif.Decode(f)
	if err != nil {
		return out
	}

	if t, err := x.DateTime(); err == nil {
		out.CaptureTime = &t
	}
	if tag, err := x.Get(exif.Make); err == nil {
		if s, err := tag.StringVal(); err == nil {
			out.CameraMake = s
		}
	}
	if tag, err := x.Get(exif.Model); err == nil {
		if s, err := tag.StringVal(); err == nil {
			out.CameraModel = s
		}
	}
	if tag, err := x.Get(exif.Orientation); err == nil {
		if v, err := tag.Int(0); err == nil && v >= 1 && v <= 8 {
			out.Orientation = v
		}
	}
	return out
}
