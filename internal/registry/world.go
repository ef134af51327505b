package registry

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/sakif/crono-esfera/internal/model"
)

// World geometry.
const (
	GlobeRadius  = 5.0
	Subdivisions = 2
	// SectorCount is the number of distinct vertices of a level-2 icosphere.
	SectorCount = 92
)

// MockUser is a placeholder occupant of a freshly generated world.
type MockUser struct {
	Name   string
	Avatar string
}

// MockUsers is the fixed roster used for placeholder occupants.
var MockUsers = []MockUser{
	{Name: "X-Plorer", Avatar: "https://picsum.photos/seed/xp/200"},
	{Name: "Nebula_Queen", Avatar: "https://picsum.photos/seed/nq/200"},
	{Name: "Cypher_Punk", Avatar: "https://picsum.photos/seed/cp/200"},
	{Name: "VoidWalker", Avatar: "https://picsum.photos/seed/vw/200"},
	{Name: "StarDust", Avatar: "https://picsum.photos/seed/sd/200"},
}

// PlaceholderTitle is the title of every unclaimed sector.
const PlaceholderTitle = "SETOR ATIVO"

// maxJitter is how far back placeholder reigns may start.
const maxJitter = 8_000_000 // ms, a bit over two hours

type vec3 [3]float64

func (a vec3) lerp(b vec3, t float64) vec3 {
	return vec3{a[0] + (b[0]-a[0])*t, a[1] + (b[1]-a[1])*t, a[2] + (b[2]-a[2])*t}
}

func (a vec3) scaledTo(r float64) vec3 {
	l := math.Sqrt(a[0]*a[0] + a[1]*a[1] + a[2]*a[2])
	return vec3{a[0] / l * r, a[1] / l * r, a[2] / l * r}
}

// Icosahedron vertices and faces in the conventional winding used by 3D
// toolkits, so sector ids line up with what a renderer would generate.
var (
	phi = (1 + math.Sqrt(5)) / 2

	icoVertices = []vec3{
		{-1, phi, 0}, {1, phi, 0}, {-1, -phi, 0}, {1, -phi, 0},
		{0, -1, phi}, {0, 1, phi}, {0, -1, -phi}, {0, 1, -phi},
		{phi, 0, -1}, {phi, 0, 1}, {-phi, 0, -1}, {-phi, 0, 1},
	}

	icoFaces = [][3]int{
		{0, 11, 5}, {0, 5, 1}, {0, 1, 7}, {0, 7, 10}, {0, 10, 11},
		{1, 5, 9}, {5, 11, 4}, {11, 10, 2}, {10, 7, 6}, {7, 1, 8},
		{3, 9, 4}, {3, 4, 2}, {3, 2, 6}, {3, 6, 8}, {3, 8, 9},
		{4, 9, 5}, {2, 4, 11}, {6, 2, 10}, {8, 6, 7}, {9, 8, 1},
	}
)

// subdivide splits one face into (detail+1)² triangles and returns their
// corners in emission order.
func subdivide(a, b, c vec3, detail int) []vec3 {
	cols := detail + 1
	grid := make([][]vec3, cols+1)
	for i := 0; i <= cols; i++ {
		aj := a.lerp(c, float64(i)/float64(cols))
		bj := b.lerp(c, float64(i)/float64(cols))
		rows := cols - i
		grid[i] = make([]vec3, rows+1)
		for j := 0; j <= rows; j++ {
			if j == 0 && i == cols {
				grid[i][j] = aj
			} else {
				grid[i][j] = aj.lerp(bj, float64(j)/float64(rows))
			}
		}
	}

	var out []vec3
	for i := 0; i < cols; i++ {
		for j := 0; j < 2*(cols-i)-1; j++ {
			k := j / 2
			if j%2 == 0 {
				out = append(out, grid[i][k+1], grid[i+1][k], grid[i][k])
			} else {
				out = append(out, grid[i][k+1], grid[i+1][k+1], grid[i+1][k])
			}
		}
	}
	return out
}

// SpherePoints returns the distinct vertices of an icosphere of the given
// radius and subdivision level, in first-seen order. Vertices are merged
// when they agree to two decimals.
func SpherePoints(radius float64, detail int) [][3]float64 {
	type key [3]int64
	seen := make(map[key]bool)
	var points [][3]float64

	for _, f := range icoFaces {
		for _, v := range subdivide(icoVertices[f[0]], icoVertices[f[1]], icoVertices[f[2]], detail) {
			p := v.scaledTo(radius)
			k := key{int64(math.Round(p[0] * 100)), int64(math.Round(p[1] * 100)), int64(math.Round(p[2] * 100))}
			if seen[k] {
				continue
			}
			seen[k] = true
			points = append(points, [3]float64(p))
		}
	}
	return points
}

// GenerateWorld builds the initial sector set: one sector per sphere point,
// each held by a placeholder occupant whose reign started up to ~2h before
// now.
func GenerateWorld(now time.Time, rng *rand.Rand) []model.Sector {
	points := SpherePoints(GlobeRadius, Subdivisions)
	sectors := make([]model.Sector, len(points))
	for i, p := range points {
		user := MockUsers[i%len(MockUsers)]
		sides := 6
		if i%7 == 0 {
			sides = 5
		}
		sectors[i] = model.Sector{
			ID:             i,
			OccupantID:     fmt.Sprintf("mock_user_%d", i%len(MockUsers)),
			OccupantName:   user.Name,
			OccupantAvatar: user.Avatar,
			Title:          PlaceholderTitle,
			Media:          model.SingleMedia(fmt.Sprintf("https://picsum.photos/seed/crono%d/800/800", i+9000)),
			StartTime:      now.UnixMilli() - rng.Int64N(maxJitter),
			Position:       p,
			FaceSides:      sides,
		}
	}
	return sectors
}
