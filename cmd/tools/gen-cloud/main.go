// Command gen-cloud writes synthetic ASCII point clouds for testing the
// reconstruction pipeline: spheres, cube surfaces and noisy planes.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/banshee-data/surface.report/internal/cloud"
)

var (
	shape  = flag.String("shape", "sphere", "Cloud shape: sphere, cube or plane")
	out    = flag.String("out", "cloud.xyz", "Output file")
	n      = flag.Int("n", 10000, "Point count (per side for cube)")
	seed   = flag.Int64("seed", 42, "Random seed")
	radius = flag.Float64("radius", 1.0, "Sphere radius / plane extent / cube edge")
	sigma  = flag.Float64("sigma", 0.0, "Gaussian z-noise for plane clouds")
)

func main() {
	flag.Parse()

	var buf *cloud.PointBuffer
	switch *shape {
	case "sphere":
		buf = cloud.GenSpherePoints(*seed, *n, mgl32.Vec3{}, float32(*radius))
	case "cube":
		r := float32(*radius)
		buf = cloud.GenCubePoints(*seed, *n, mgl32.Vec3{0, 0, 0}, mgl32.Vec3{r, r, r})
	case "plane":
		buf = cloud.GenPlanePoints(*seed, *n, float32(*radius), *sigma)
	default:
		log.Fatalf("unknown shape %q", *shape)
	}

	f, err := os.Create(*out)
	if err != nil {
		log.Fatalf("creating %s: %v", *out, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for i := 0; i < buf.NumPoints(); i++ {
		p := buf.Position(i)
		fmt.Fprintf(w, "%g %g %g\n", p[0], p[1], p[2])
	}
	if err := w.Flush(); err != nil {
		log.Fatalf("writing %s: %v", *out, err)
	}
	log.Printf("wrote %d points to %s", buf.NumPoints(), *out)
}
