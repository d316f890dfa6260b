package pointcloud

// basicPointCloud is the basic implementation of the PointCloud interface backed by a slice.
type basicPointCloud struct {
	points []Point
	meta   MetaData
}

// New returns an empty PointCloud backed by a basicPointCloud.
func New() PointCloud {
	return NewWithPrealloc(0)
}

// NewWithPrealloc returns an empty, preallocated PointCloud backed by a basicPointCloud.
func NewWithPrealloc(size int) PointCloud {
	return &basicPointCloud{
		points: make([]Point, 0, size),
		meta:   NewMetaData(),
	}
}

// NewFromPoints returns a PointCloud holding the given points in order.
func NewFromPoints(points []Point) PointCloud {
	cloud := NewWithPrealloc(len(points))
	for _, p := range points {
		cloud.Append(p)
	}
	return cloud
}

func (cloud *basicPointCloud) Size() int {
	return len(cloud.points)
}

func (cloud *basicPointCloud) MetaData() MetaData {
	return cloud.meta
}

func (cloud *basicPointCloud) Append(p Point) {
	cloud.points = append(cloud.points, p)
	if p.IsFinite() {
		cloud.meta.Merge(p.Position)
	}
}

func (cloud *basicPointCloud) At(i int) Point {
	return cloud.points[i]
}

func (cloud *basicPointCloud) Iterate(fn func(i int, p Point) bool) {
	for i, p := range cloud.points {
		if !fn(i, p) {
			return
		}
	}
}

// Points returns a copy of the points of cloud in order.
func Points(cloud PointCloud) []Point {
	out := make([]Point, 0, cloud.Size())
	cloud.Iterate(func(_ int, p Point) bool {
		out = append(out, p)
		return true
	})
	return out
}
