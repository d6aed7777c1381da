package formats

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/chewxy/math32"
)

// OBJ format errors.
var (
	ErrInvalidOBJIndex = errors.New("invalid OBJ vertex index")
	ErrMalformedOBJ    = errors.New("malformed OBJ statement")
)

// OBJ is a triangulated Wavefront OBJ mesh with one normal per vertex.
type OBJ struct {
	Vertices  [][3]float32
	Normals   [][3]float32 // Parallel to Vertices, unit length or zero
	Triangles [][3]int
}

// ParseOBJ reads v, vn and f statements. Faces are fan-triangulated.
// Vertex normals are averaged from the vn entries faces reference, or
// computed from face normals when the file has none. Other statements are
// ignored.
func ParseOBJ(r io.Reader) (*OBJ, error) {
	obj := &OBJ{}
	var fileNormals [][3]float32
	var refs [][3]int // triangle corners -> normal index, -1 when absent
	hasNormalRefs := false

	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || text[0] == '#' {
			continue
		}
		fields := strings.Fields(text)

		switch fields[0] {
		case "v":
			v, err := parseOBJVector(fields[1:])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			obj.Vertices = append(obj.Vertices, v)

		case "vn":
			n, err := parseOBJVector(fields[1:])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			fileNormals = append(fileNormals, n)

		case "f":
			if len(fields) < 4 {
				return nil, fmt.Errorf("line %d: %w: face needs 3 vertices", line, ErrMalformedOBJ)
			}
			corners := make([]int, 0, len(fields)-1)
			normals := make([]int, 0, len(fields)-1)
			for _, f := range fields[1:] {
				v, n, err := parseOBJCorner(f, len(obj.Vertices), len(fileNormals))
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", line, err)
				}
				if n >= 0 {
					hasNormalRefs = true
				}
				corners = append(corners, v)
				normals = append(normals, n)
			}
			for i := 1; i+1 < len(corners); i++ {
				obj.Triangles = append(obj.Triangles, [3]int{corners[0], corners[i], corners[i+1]})
				refs = append(refs, [3]int{normals[0], normals[i], normals[i+1]})
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading OBJ: %w", err)
	}

	obj.Normals = make([][3]float32, len(obj.Vertices))
	if hasNormalRefs {
		for t, tri := range obj.Triangles {
			for k, v := range tri {
				if n := refs[t][k]; n >= 0 {
					obj.Normals[v] = addOBJ(obj.Normals[v], fileNormals[n])
				}
			}
		}
	} else {
		for _, tri := range obj.Triangles {
			a, b, c := obj.Vertices[tri[0]], obj.Vertices[tri[1]], obj.Vertices[tri[2]]
			n := crossOBJ(subOBJ(b, a), subOBJ(c, a))
			for _, v := range tri {
				obj.Normals[v] = addOBJ(obj.Normals[v], n)
			}
		}
	}
	for i, n := range obj.Normals {
		obj.Normals[i] = normalizeOBJ(n)
	}

	return obj, nil
}

// ParseOBJFile parses an OBJ file from disk.
func ParseOBJFile(path string) (*OBJ, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening OBJ file: %w", err)
	}
	defer f.Close()
	return ParseOBJ(f)
}

func parseOBJVector(fields []string) ([3]float32, error) {
	var v [3]float32
	if len(fields) < 3 {
		return v, fmt.Errorf("%w: expected 3 coordinates, got %d", ErrMalformedOBJ, len(fields))
	}
	for i := 0; i < 3; i++ {
		f, err := strconv.ParseFloat(fields[i], 32)
		if err != nil {
			return v, fmt.Errorf("%w: coordinate %q", ErrMalformedOBJ, fields[i])
		}
		v[i] = float32(f)
	}
	return v, nil
}

// parseOBJCorner parses v, v/vt, v//vn or v/vt/vn and resolves 1-based and
// negative indices. The normal index is -1 when absent.
func parseOBJCorner(s string, vertexCount, normalCount int) (int, int, error) {
	parts := strings.Split(s, "/")
	v, err := resolveOBJIndex(parts[0], vertexCount)
	if err != nil {
		return 0, 0, err
	}
	n := -1
	if len(parts) == 3 && parts[2] != "" {
		if n, err = resolveOBJIndex(parts[2], normalCount); err != nil {
			return 0, 0, err
		}
	}
	return v, n, nil
}

func resolveOBJIndex(s string, count int) (int, error) {
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidOBJIndex, s)
	}
	switch {
	case i > 0 && i <= count:
		return i - 1, nil
	case i < 0 && -i <= count:
		return count + i, nil
	default:
		return 0, fmt.Errorf("%w: %d of %d", ErrInvalidOBJIndex, i, count)
	}
}

func addOBJ(a, b [3]float32) [3]float32 { return [3]float32{a[0] + b[0], a[1] + b[1], a[2] + b[2]} }
func subOBJ(a, b [3]float32) [3]float32 { return [3]float32{a[0] - b[0], a[1] - b[1], a[2] - b[2]} }

func crossOBJ(a, b [3]float32) [3]float32 {
	return [3]float32{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func normalizeOBJ(v [3]float32) [3]float32 {
	l := math32.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
	if l == 0 {
		return v
	}
	return [3]float32{v[0] / l, v[1] / l, v[2] / l}
}
