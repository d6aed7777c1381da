package formats

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// Blueprint format errors.
var (
	ErrInvalidBlueprintMagic       = errors.New("invalid blueprint magic: expected 'SBPF'")
	ErrUnsupportedBlueprintVersion = errors.New("unsupported blueprint version")
	ErrTruncatedBlueprintData      = errors.New("truncated blueprint data")
	ErrInconsistentBlueprint       = errors.New("inconsistent blueprint arrays")
)

const (
	blueprintMagic = "SBPF"

	// Upper bound on any element count, so corrupt headers cannot trigger
	// huge allocations.
	maxBlueprintCount = 1 << 24
)

// BlueprintVersion is the blueprint file version.
type BlueprintVersion struct {
	Major uint8
	Minor uint8
}

// String returns the version as "Major.Minor".
func (v BlueprintVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// CurrentBlueprintVersion is the version written by WriteBlueprint.
var CurrentBlueprintVersion = BlueprintVersion{Major: 1, Minor: 0}

// BlueprintWeight holds up to four bone influences. Unused slots have
// index -1 and weight 0.
type BlueprintWeight struct {
	Index  [4]int32
	Weight [4]float32
}

// Blueprint holds the durable output of softbody generation and skin
// binding. Per-particle arrays are parallel.
type Blueprint struct {
	Version BlueprintVersion

	Positions           [][3]float32
	RestPositions       [][4]float32
	Orientations        [][4]float32 // x, y, z, w
	RestOrientations    [][4]float32
	InvMasses           []float32
	InvRotationalMasses []float32
	PrincipalRadii      [][3]float32
	Phases              []int32
	Active              []bool

	Clusters [][]int32 // Seed first

	BindPoses [][16]float32 // Column-major
	Weights   []BlueprintWeight
}

// ParticleCount returns the number of particles.
func (b *Blueprint) ParticleCount() int {
	return len(b.Positions)
}

// Validate checks that the per-particle arrays agree in length and that
// cluster members are in range.
func (b *Blueprint) Validate() error {
	n := len(b.Positions)
	lengths := []int{
		len(b.RestPositions), len(b.Orientations), len(b.RestOrientations),
		len(b.InvMasses), len(b.InvRotationalMasses), len(b.PrincipalRadii),
		len(b.Phases), len(b.Active),
	}
	for _, l := range lengths {
		if l != n {
			return fmt.Errorf("%w: %d particles but an array holds %d", ErrInconsistentBlueprint, n, l)
		}
	}
	for c, members := range b.Clusters {
		if len(members) == 0 {
			return fmt.Errorf("%w: cluster %d is empty", ErrInconsistentBlueprint, c)
		}
		for _, m := range members {
			if m < 0 || int(m) >= n {
				return fmt.Errorf("%w: cluster %d references particle %d", ErrInconsistentBlueprint, c, m)
			}
		}
	}
	return nil
}

// WriteBlueprint encodes b to w.
func WriteBlueprint(w io.Writer, b *Blueprint) error {
	if err := b.Validate(); err != nil {
		return err
	}

	buf := new(bytes.Buffer)
	buf.WriteString(blueprintMagic)
	buf.WriteByte(CurrentBlueprintVersion.Major)
	buf.WriteByte(CurrentBlueprintVersion.Minor)

	active := make([]uint8, len(b.Active))
	for i, a := range b.Active {
		if a {
			active[i] = 1
		}
	}

	// bytes.Buffer writes cannot fail.
	le := binary.LittleEndian
	binary.Write(buf, le, uint32(b.ParticleCount()))
	binary.Write(buf, le, b.Positions)
	binary.Write(buf, le, b.RestPositions)
	binary.Write(buf, le, b.Orientations)
	binary.Write(buf, le, b.RestOrientations)
	binary.Write(buf, le, b.InvMasses)
	binary.Write(buf, le, b.InvRotationalMasses)
	binary.Write(buf, le, b.PrincipalRadii)
	binary.Write(buf, le, b.Phases)
	binary.Write(buf, le, active)

	binary.Write(buf, le, uint32(len(b.Clusters)))
	for _, members := range b.Clusters {
		binary.Write(buf, le, uint32(len(members)))
		binary.Write(buf, le, members)
	}

	binary.Write(buf, le, uint32(len(b.BindPoses)))
	binary.Write(buf, le, b.BindPoses)

	binary.Write(buf, le, uint32(len(b.Weights)))
	for _, weight := range b.Weights {
		binary.Write(buf, le, weight.Index)
		binary.Write(buf, le, weight.Weight)
	}

	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("writing blueprint: %w", err)
	}
	return nil
}

// WriteBlueprintFile encodes b to a file at path.
func WriteBlueprintFile(path string, b *Blueprint) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating blueprint file: %w", err)
	}
	if err := WriteBlueprint(f, b); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ParseBlueprint parses a blueprint from raw bytes.
func ParseBlueprint(data []byte) (*Blueprint, error) {
	if len(data) < 10 {
		return nil, ErrTruncatedBlueprintData
	}
	if string(data[0:4]) != blueprintMagic {
		return nil, ErrInvalidBlueprintMagic
	}

	version := BlueprintVersion{Major: data[4], Minor: data[5]}
	if version.Major != CurrentBlueprintVersion.Major {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedBlueprintVersion, version)
	}

	r := bytes.NewReader(data[6:])
	bp := &Blueprint{Version: version}

	n, err := readCount(r, "particle count", 3*4+4*4*3+4+4+3*4+4+1)
	if err != nil {
		return nil, err
	}

	bp.Positions = make([][3]float32, n)
	bp.RestPositions = make([][4]float32, n)
	bp.Orientations = make([][4]float32, n)
	bp.RestOrientations = make([][4]float32, n)
	bp.InvMasses = make([]float32, n)
	bp.InvRotationalMasses = make([]float32, n)
	bp.PrincipalRadii = make([][3]float32, n)
	bp.Phases = make([]int32, n)
	active := make([]uint8, n)

	fields := []struct {
		name string
		dst  any
	}{
		{"positions", bp.Positions},
		{"rest positions", bp.RestPositions},
		{"orientations", bp.Orientations},
		{"rest orientations", bp.RestOrientations},
		{"inverse masses", bp.InvMasses},
		{"inverse rotational masses", bp.InvRotationalMasses},
		{"principal radii", bp.PrincipalRadii},
		{"phases", bp.Phases},
		{"active flags", active},
	}
	for _, f := range fields {
		if err := binary.Read(r, binary.LittleEndian, f.dst); err != nil {
			return nil, fmt.Errorf("%w: reading %s", ErrTruncatedBlueprintData, f.name)
		}
	}
	bp.Active = make([]bool, n)
	for i, a := range active {
		bp.Active[i] = a != 0
	}

	clusterCount, err := readCount(r, "cluster count", 4)
	if err != nil {
		return nil, err
	}
	bp.Clusters = make([][]int32, clusterCount)
	for c := range bp.Clusters {
		size, err := readCount(r, fmt.Sprintf("cluster %d size", c), 4)
		if err != nil {
			return nil, err
		}
		bp.Clusters[c] = make([]int32, size)
		if err := binary.Read(r, binary.LittleEndian, bp.Clusters[c]); err != nil {
			return nil, fmt.Errorf("%w: reading cluster %d", ErrTruncatedBlueprintData, c)
		}
	}

	poseCount, err := readCount(r, "bind pose count", 16*4)
	if err != nil {
		return nil, err
	}
	bp.BindPoses = make([][16]float32, poseCount)
	if err := binary.Read(r, binary.LittleEndian, bp.BindPoses); err != nil {
		return nil, fmt.Errorf("%w: reading bind poses", ErrTruncatedBlueprintData)
	}

	weightCount, err := readCount(r, "weight count", 4*4+4*4)
	if err != nil {
		return nil, err
	}
	bp.Weights = make([]BlueprintWeight, weightCount)
	for i := range bp.Weights {
		if err := binary.Read(r, binary.LittleEndian, &bp.Weights[i].Index); err != nil {
			return nil, fmt.Errorf("%w: reading weight %d", ErrTruncatedBlueprintData, i)
		}
		if err := binary.Read(r, binary.LittleEndian, &bp.Weights[i].Weight); err != nil {
			return nil, fmt.Errorf("%w: reading weight %d", ErrTruncatedBlueprintData, i)
		}
	}

	if err := bp.Validate(); err != nil {
		return nil, err
	}
	return bp, nil
}

// readCount reads a u32 element count and checks that the remaining data
// can hold that many elements of elemSize bytes.
func readCount(r *bytes.Reader, what string, elemSize int) (int, error) {
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return 0, fmt.Errorf("%w: reading %s", ErrTruncatedBlueprintData, what)
	}
	if count > maxBlueprintCount {
		return 0, fmt.Errorf("%w: %s %d too large", ErrInconsistentBlueprint, what, count)
	}
	if int(count)*elemSize > r.Len() {
		return 0, fmt.Errorf("%w: %s %d exceeds remaining %d bytes", ErrTruncatedBlueprintData, what, count, r.Len())
	}
	return int(count), nil
}

// ParseBlueprintFile parses a blueprint file from disk.
func ParseBlueprintFile(path string) (*Blueprint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading blueprint file: %w", err)
	}
	return ParseBlueprint(data)
}
