package optimize

import (
	"math/rand"
	"sort"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/banshee-data/surface.report/internal/hemesh"
	"github.com/banshee-data/surface.report/internal/monitoring"
	"github.com/banshee-data/surface.report/internal/surface"
)

// Cluster is a handle into a ClusterBiMap.
type Cluster uint32

// ClusterBiMap is the bidirectional face-to-cluster mapping produced by
// planar cluster growing: each face belongs to at most one cluster, each
// cluster owns at least one face.
type ClusterBiMap struct {
	faces    map[Cluster][]hemesh.Face
	clusterOf map[hemesh.Face]Cluster
	next     Cluster
}

// NewClusterBiMap returns an empty mapping.
func NewClusterBiMap() *ClusterBiMap {
	return &ClusterBiMap{
		faces:     map[Cluster][]hemesh.Face{},
		clusterOf: map[hemesh.Face]Cluster{},
	}
}

// CreateCluster allocates an empty cluster handle.
func (cm *ClusterBiMap) CreateCluster() Cluster {
	c := cm.next
	cm.next++
	cm.faces[c] = nil
	return c
}

// AddToCluster assigns f to c, detaching it from any previous cluster.
func (cm *ClusterBiMap) AddToCluster(c Cluster, f hemesh.Face) {
	if prev, ok := cm.clusterOf[f]; ok {
		cm.removeFromSlice(prev, f)
	}
	cm.faces[c] = append(cm.faces[c], f)
	cm.clusterOf[f] = c
}

func (cm *ClusterBiMap) removeFromSlice(c Cluster, f hemesh.Face) {
	s := cm.faces[c]
	for i, ff := range s {
		if ff == f {
			cm.faces[c] = append(s[:i], s[i+1:]...)
			return
		}
	}
}

// RemoveCluster drops c and unassigns its faces.
func (cm *ClusterBiMap) RemoveCluster(c Cluster) {
	for _, f := range cm.faces[c] {
		delete(cm.clusterOf, f)
	}
	delete(cm.faces, c)
}

// ClusterOf returns f's cluster; ok is false for unassigned faces.
func (cm *ClusterBiMap) ClusterOf(f hemesh.Face) (Cluster, bool) {
	c, ok := cm.clusterOf[f]
	return c, ok
}

// Faces returns the face list of c.
func (cm *ClusterBiMap) Faces(c Cluster) []hemesh.Face { return cm.faces[c] }

// NumClusters returns the number of clusters.
func (cm *ClusterBiMap) NumClusters() int { return len(cm.faces) }

// Clusters returns all cluster handles in ascending order.
func (cm *ClusterBiMap) Clusters() []Cluster {
	out := make([]Cluster, 0, len(cm.faces))
	for c := range cm.faces {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// seedResidual scores a face's neighbourhood planarity: the PCA residual of
// the face's vertices together with its edge-adjacent faces' vertices.
// Smaller means flatter, and flatter faces seed first.
func seedResidual(m *hemesh.Mesh, f hemesh.Face) float64 {
	var pts []mgl32.Vec3
	cycle, err := m.FaceVertices(f)
	if err != nil {
		return 1e30
	}
	for _, v := range cycle {
		pts = append(pts, m.Position(v))
	}
	adjacent, err := m.AdjacentFaces(f)
	if err != nil {
		return 1e30
	}
	for _, nb := range adjacent {
		nbCycle, err := m.FaceVertices(nb)
		if err != nil {
			continue
		}
		for _, v := range nbCycle {
			pts = append(pts, m.Position(v))
		}
	}
	pl, ok := surface.FitPlane(pts)
	if !ok {
		return 1e30
	}
	return pl.Residual
}

// PlanarClusterGrowing partitions all faces into planar clusters by greedy
// breadth-first growth. Seeds are taken in order of ascending neighbourhood
// PCA residual; a face joins a cluster iff the cosine between its normal
// and the cluster's running area-weighted mean normal is at least
// normalThreshold. Every live face ends up in exactly one cluster.
func PlanarClusterGrowing(m *hemesh.Mesh, normals *hemesh.Prop[mgl32.Vec3], normalThreshold float64) *ClusterBiMap {
	done := monitoring.Stage("planar cluster growing")
	defer done()

	type seed struct {
		f        hemesh.Face
		residual float64
	}
	seeds := make([]seed, 0, m.NumFaces())
	for fi := 0; fi < m.FacesSize(); fi++ {
		f := hemesh.Face(fi)
		if m.FaceDeleted(f) {
			continue
		}
		seeds = append(seeds, seed{f: f, residual: seedResidual(m, f)})
	}
	sort.Slice(seeds, func(i, j int) bool {
		if seeds[i].residual != seeds[j].residual {
			return seeds[i].residual < seeds[j].residual
		}
		return seeds[i].f < seeds[j].f
	})

	cm := NewClusterBiMap()
	for _, s := range seeds {
		if _, assigned := cm.ClusterOf(s.f); assigned {
			continue
		}
		c := cm.CreateCluster()
		growCluster(m, normals, cm, c, s.f, normalThreshold)
	}
	monitoring.Logf("optimize: %d planar clusters", cm.NumClusters())
	return cm
}

// growCluster floods outward from seed, maintaining the area-weighted mean
// cluster normal.
func growCluster(m *hemesh.Mesh, normals *hemesh.Prop[mgl32.Vec3], cm *ClusterBiMap, c Cluster, seed hemesh.Face, threshold float64) {
	clusterNormal := normals.Data[seed].Mul(FaceArea(m, seed))
	if l := clusterNormal.Len(); l > 1e-12 {
		clusterNormal = clusterNormal.Mul(1 / l)
	} else {
		clusterNormal = normals.Data[seed]
	}

	cm.AddToCluster(c, seed)
	queue := []hemesh.Face{seed}
	var weighted mgl32.Vec3 = normals.Data[seed].Mul(FaceArea(m, seed))

	for len(queue) > 0 {
		f := queue[0]
		queue = queue[1:]

		adjacent, err := m.AdjacentFaces(f)
		if err != nil {
			continue
		}
		for _, nb := range adjacent {
			if _, assigned := cm.ClusterOf(nb); assigned {
				continue
			}
			if float64(normals.Data[nb].Dot(clusterNormal)) < threshold {
				continue
			}
			cm.AddToCluster(c, nb)
			queue = append(queue, nb)

			weighted = weighted.Add(normals.Data[nb].Mul(FaceArea(m, nb)))
			if l := weighted.Len(); l > 1e-12 {
				clusterNormal = weighted.Mul(1 / l)
			}
		}
	}
}

// ClusterNormal returns the area-weighted mean normal of a cluster,
// renormalized.
func ClusterNormal(m *hemesh.Mesh, normals *hemesh.Prop[mgl32.Vec3], cm *ClusterBiMap, c Cluster) mgl32.Vec3 {
	var n mgl32.Vec3
	for _, f := range cm.Faces(c) {
		n = n.Add(normals.Data[f].Mul(FaceArea(m, f)))
	}
	if l := n.Len(); l > 1e-12 {
		return n.Mul(1 / l)
	}
	return n
}

// ransacPlaneDistance bounds how far a face centroid may sit off a
// candidate plane, in multiples of the mean face diameter.
const ransacPlaneDistance = 2.0

// PlanarClusterGrowingRANSAC seeds clusters by plane hypotheses sampled
// from random face triples over a number of iterations: a hypothesis whose
// plane collects at least minPlaneSize coherent inlier faces becomes a
// cluster. Remaining faces are partitioned by the greedy grower. The
// sampler is deterministically seeded.
func PlanarClusterGrowingRANSAC(m *hemesh.Mesh, normals *hemesh.Prop[mgl32.Vec3], normalThreshold float64, iterations, minPlaneSize int) *ClusterBiMap {
	done := monitoring.Stage("planar cluster growing (ransac)")
	defer done()

	var live []hemesh.Face
	var meanDiameter float64
	for fi := 0; fi < m.FacesSize(); fi++ {
		f := hemesh.Face(fi)
		if m.FaceDeleted(f) {
			continue
		}
		live = append(live, f)
		cycle, err := m.FaceVertices(f)
		if err != nil {
			continue
		}
		var diam float32
		for i := range cycle {
			for j := i + 1; j < len(cycle); j++ {
				if d := m.Position(cycle[i]).Sub(m.Position(cycle[j])).Len(); d > diam {
					diam = d
				}
			}
		}
		meanDiameter += float64(diam)
	}
	if len(live) < 3 {
		return PlanarClusterGrowing(m, normals, normalThreshold)
	}
	meanDiameter = ransacPlaneDistance * (meanDiameter / float64(len(live)))

	cm := NewClusterBiMap()
	rng := rand.New(rand.NewSource(int64(len(live))))

	for iter := 0; iter < iterations; iter++ {
		f0 := live[rng.Intn(len(live))]
		f1 := live[rng.Intn(len(live))]
		f2 := live[rng.Intn(len(live))]
		if f0 == f1 || f1 == f2 || f0 == f2 {
			continue
		}
		pl, ok := surface.FitPlane([]mgl32.Vec3{
			FaceCentroid(m, f0), FaceCentroid(m, f1), FaceCentroid(m, f2),
		})
		if !ok {
			continue
		}

		var inliers []hemesh.Face
		for _, f := range live {
			if _, assigned := cm.ClusterOf(f); assigned {
				continue
			}
			d := float64(pl.Distance(FaceCentroid(m, f)))
			if d < 0 {
				d = -d
			}
			cos := float64(normals.Data[f].Dot(pl.Normal))
			if cos < 0 {
				cos = -cos
			}
			if d <= meanDiameter && cos >= normalThreshold {
				inliers = append(inliers, f)
			}
		}
		if len(inliers) < minPlaneSize {
			continue
		}
		c := cm.CreateCluster()
		for _, f := range inliers {
			cm.AddToCluster(c, f)
		}
	}

	// Leftover faces: grow greedily as usual.
	for _, f := range live {
		if _, assigned := cm.ClusterOf(f); assigned {
			continue
		}
		c := cm.CreateCluster()
		growCluster(m, normals, cm, c, f, normalThreshold)
	}
	monitoring.Logf("optimize: %d clusters after ransac growing", cm.NumClusters())
	return cm
}

// DeleteSmallClusters removes every cluster with fewer than threshold faces
// from the mesh and the mapping. Returns the number of deleted faces.
func DeleteSmallClusters(m *hemesh.Mesh, cm *ClusterBiMap, threshold int) int {
	if threshold <= 0 {
		return 0
	}
	doomed := map[hemesh.Face]bool{}
	for _, c := range cm.Clusters() {
		if len(cm.Faces(c)) < threshold {
			for _, f := range cm.Faces(c) {
				doomed[f] = true
			}
			cm.RemoveCluster(c)
		}
	}
	if len(doomed) == 0 {
		return 0
	}
	m.DeleteManyFaces(func(f hemesh.Face) bool { return doomed[f] })
	monitoring.Logf("optimize: deleted %d faces in small clusters", len(doomed))
	return len(doomed)
}
