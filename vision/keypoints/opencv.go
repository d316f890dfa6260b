//go:build opencv

package keypoints

import (
	"image"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/photocloud/photocloud/rimage"
)

// Detector names available when built with the opencv tag.
const (
	SIFTDetectorName  = "sift"
	ORBCVDetectorName = "orb-cv"
)

func init() {
	RegisterDetector(SIFTDetectorName, func(cfg *Config) (Detector, error) {
		return &cvDetector{name: SIFTDetectorName, kind: FloatDescriptor}, nil
	})
	RegisterDetector(ORBCVDetectorName, func(cfg *Config) (Detector, error) {
		maxKeypoints := DefaultORBConfig().MaxKeypoints
		if cfg.ORB != nil {
			maxKeypoints = cfg.ORB.MaxKeypoints
		}
		return &cvDetector{name: ORBCVDetectorName, kind: BinaryDescriptor, maxKeypoints: maxKeypoints}, nil
	})
}

// cvDetector wraps the OpenCV SIFT and ORB feature detectors.
type cvDetector struct {
	name         string
	kind         DescriptorKind
	maxKeypoints int
}

func (d *cvDetector) Name() string {
	return d.name
}

func (d *cvDetector) Kind() DescriptorKind {
	return d.kind
}

func (d *cvDetector) Detect(img image.Image) (*Features, error) {
	src, err := gocv.ImageGrayToMatGray(rimage.MakeGray(img))
	if err != nil {
		return nil, errors.Wrap(err, "converting image to mat")
	}
	defer src.Close()
	mask := gocv.NewMat()
	defer mask.Close()

	var kps []gocv.KeyPoint
	var desc gocv.Mat
	if d.kind == FloatDescriptor {
		sift := gocv.NewSIFT()
		defer sift.Close()
		kps, desc = sift.DetectAndCompute(src, mask)
	} else {
		orb := gocv.NewORBWithParams(d.maxKeypoints, 1.2, 8, 31, 0, 2, gocv.ORBScoreTypeHarris, 31, 20)
		defer orb.Close()
		kps, desc = orb.DetectAndCompute(src, mask)
	}
	defer desc.Close()

	features := &Features{Detector: d.name, Kind: d.kind, KeyPoints: make([]KeyPoint, 0, len(kps))}
	if desc.Empty() {
		return features, nil
	}
	for i, kp := range kps {
		features.KeyPoints = append(features.KeyPoints, KeyPoint{
			X:        kp.X,
			Y:        kp.Y,
			Size:     kp.Size,
			Angle:    kp.Angle,
			Response: kp.Response,
			Octave:   kp.Octave,
		})
		if d.kind == FloatDescriptor {
			row := make([]float64, desc.Cols())
			for c := range row {
				row[c] = float64(desc.GetFloatAt(i, c))
			}
			features.Float = append(features.Float, row)
			continue
		}
		// 32 bytes per ORB descriptor, packed little end first.
		row := make([]uint64, (desc.Cols()+7)/8)
		for c := 0; c < desc.Cols(); c++ {
			row[c/8] |= uint64(desc.GetUCharAt(i, c)) << (8 * uint(c%8))
		}
		features.Binary = append(features.Binary, row)
	}
	return features, nil
}
