// Package keypoints detects keypoints in an image, describes them, and matches descriptors between
// images. Two detector families are built in:
//   - orb: FAST corners with steered BRIEF binary descriptors, compared by Hamming distance.
//   - histogram: minimum eigenvalue corners with gradient orientation histogram descriptors,
//     compared by Euclidean distance.
package keypoints

import (
	"image"
	"math"

	"github.com/golang/geo/r2"
)

// DescriptorKind declares how descriptors of a detector are compared.
type DescriptorKind int

const (
	// FloatDescriptor vectors are compared with the Euclidean distance.
	FloatDescriptor DescriptorKind = iota
	// BinaryDescriptor codes are compared with the Hamming distance.
	BinaryDescriptor
)

func (k DescriptorKind) String() string {
	switch k {
	case FloatDescriptor:
		return "float"
	case BinaryDescriptor:
		return "binary"
	}
	return "unknown"
}

// KeyPoint is a detected location in full resolution pixel coordinates.
type KeyPoint struct {
	X        float64
	Y        float64
	Size     float64
	Angle    float64
	Response float64
	Octave   int
}

// Point returns the keypoint location.
func (kp KeyPoint) Point() r2.Point {
	return r2.Point{X: kp.X, Y: kp.Y}
}

// Features are the keypoints of one image and their descriptors, paired by index. Exactly one of
// Float and Binary is populated, according to Kind.
type Features struct {
	Detector  string
	Kind      DescriptorKind
	KeyPoints []KeyPoint
	Float     [][]float64
	Binary    [][]uint64
}

// Len returns the number of described keypoints.
func (f *Features) Len() int {
	if f == nil {
		return 0
	}
	return len(f.KeyPoints)
}

// circularMask returns, for each row offset in [-radius, radius], the half width of a disc.
func circularMask(radius int) []int {
	halfWidths := make([]int, 2*radius+1)
	for dy := -radius; dy <= radius; dy++ {
		halfWidths[dy+radius] = int(math.Floor(math.Sqrt(float64(radius*radius - dy*dy))))
	}
	return halfWidths
}

// intensityCentroidAngle computes the orientation of the patch around (x, y) as the angle of the
// vector from the patch center to its intensity centroid. The patch must lie inside the image.
func intensityCentroidAngle(img *image.Gray, x, y int, halfWidths []int) float64 {
	radius := (len(halfWidths) - 1) / 2
	m01, m10 := 0, 0
	for dy := -radius; dy <= radius; dy++ {
		hw := halfWidths[dy+radius]
		row := img.Pix[(y+dy)*img.Stride:]
		rowSum := 0
		for dx := -hw; dx <= hw; dx++ {
			v := int(row[x+dx])
			m10 += v * dx
			rowSum += v
		}
		m01 += rowSum * dy
	}
	return math.Atan2(float64(m01), float64(m10))
}
