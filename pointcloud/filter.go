package pointcloud

// DefaultMaxRadius bounds the distance from the origin of reconstructed points.
const DefaultMaxRadius = 100.0

// FilterOutliers returns a new cloud keeping, in order, the points whose coordinates are all
// finite and whose distance from the origin does not exceed maxRadius. The result may be empty.
func FilterOutliers(cloud PointCloud, maxRadius float64) PointCloud {
	out := NewWithPrealloc(cloud.Size())
	cloud.Iterate(func(_ int, p Point) bool {
		if p.IsFinite() && p.Position.Norm() <= maxRadius {
			out.Append(p)
		}
		return true
	})
	return out
}
