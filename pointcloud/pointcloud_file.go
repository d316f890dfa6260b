package pointcloud

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
)

// PLYType is the encoding of the vertex records of a ply file.
type PLYType int

const (
	// PLYBinary little endian binary format for ply.
	PLYBinary PLYType = iota
	// PLYAscii ascii format for ply.
	PLYAscii
)

// PLYMagic is the signature every ply file starts with.
const PLYMagic = "ply"

// ErrNotPLY is returned when a reader does not start with the ply signature.
var ErrNotPLY = errors.New("not a ply file")

func (t PLYType) String() string {
	switch t {
	case PLYBinary:
		return "binary_little_endian"
	case PLYAscii:
		return "ascii"
	}
	return "unknown"
}

// IsPLY reports whether r starts with the ply signature. It consumes up to three bytes.
func IsPLY(r io.Reader) bool {
	magic := make([]byte, len(PLYMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return false
	}
	return string(magic) == PLYMagic
}

// IsPLYFile reports whether the file at path starts with the ply signature.
func IsPLYFile(path string) bool {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer utils.UncheckedErrorFunc(f.Close)
	return IsPLY(f)
}

// ToPLY writes the cloud as a ply file with float x, y, z and uchar red, green, blue vertex
// properties, one record per point in cloud order.
func ToPLY(cloud PointCloud, out io.Writer, outputType PLYType) error {
	if outputType != PLYBinary && outputType != PLYAscii {
		return errors.Errorf("unsupported ply output type %d", outputType)
	}
	w := bufio.NewWriter(out)
	_, err := fmt.Fprintf(w, "%s\n"+
		"format %s 1.0\n"+
		"element vertex %d\n"+
		"property float x\n"+
		"property float y\n"+
		"property float z\n"+
		"property uchar red\n"+
		"property uchar green\n"+
		"property uchar blue\n"+
		"end_header\n",
		PLYMagic, outputType, cloud.Size())
	if err != nil {
		return err
	}

	buf := make([]byte, 15)
	cloud.Iterate(func(_ int, p Point) bool {
		switch outputType {
		case PLYBinary:
			binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(p.Position.X)))
			binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(float32(p.Position.Y)))
			binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(float32(p.Position.Z)))
			buf[12], buf[13], buf[14] = p.RGB255()
			_, err = w.Write(buf)
		case PLYAscii:
			r, g, b := p.RGB255()
			_, err = fmt.Fprintf(w, "%s %s %s %d %d %d\n",
				formatFloat32(p.Position.X), formatFloat32(p.Position.Y), formatFloat32(p.Position.Z), r, g, b)
		}
		return err == nil
	})
	if err != nil {
		return err
	}
	return w.Flush()
}

func formatFloat32(v float64) string {
	return strconv.FormatFloat(float64(float32(v)), 'g', -1, 32)
}

// WriteToPLYFile writes the cloud as a binary ply file at fn, creating parent directories.
func WriteToPLYFile(cloud PointCloud, fn string) (err error) {
	if err := os.MkdirAll(filepath.Dir(fn), 0o750); err != nil {
		return err
	}
	//nolint:gosec
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return ToPLY(cloud, f, PLYBinary)
}

// NewFromFile returns a pointcloud read in from the given ply file.
func NewFromFile(fn string) (PointCloud, error) {
	if ext := strings.ToLower(filepath.Ext(fn)); ext != ".ply" {
		return nil, errors.Errorf("do not know how to read file %q", fn)
	}
	//nolint:gosec
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)
	return ReadPLY(f)
}

type plyProperty struct {
	name     string
	typeName string
	size     int
}

type plyHeader struct {
	format     string
	order      binary.ByteOrder
	vertices   int
	properties []plyProperty
}

var plyTypeSizes = map[string]int{
	"char": 1, "int8": 1, "uchar": 1, "uint8": 1,
	"short": 2, "int16": 2, "ushort": 2, "uint16": 2,
	"int": 4, "int32": 4, "uint": 4, "uint32": 4,
	"float": 4, "float32": 4, "double": 8, "float64": 8,
}

func parsePLYHeader(in *bufio.Reader) (*plyHeader, error) {
	line, err := in.ReadString('\n')
	if err != nil || strings.TrimSpace(line) != PLYMagic {
		return nil, ErrNotPLY
	}
	header := &plyHeader{vertices: -1}
	inVertex := false
	for {
		line, err = in.ReadString('\n')
		if err != nil {
			return nil, errors.Wrap(err, "reading ply header")
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "comment", "obj_info":
		case "format":
			if len(fields) != 3 {
				return nil, errors.Errorf("malformed ply format line %q", strings.TrimSpace(line))
			}
			header.format = fields[1]
			switch header.format {
			case "ascii":
			case "binary_little_endian":
				header.order = binary.LittleEndian
			case "binary_big_endian":
				header.order = binary.BigEndian
			default:
				return nil, errors.Errorf("unsupported ply format %q", header.format)
			}
		case "element":
			if len(fields) != 3 {
				return nil, errors.Errorf("malformed ply element line %q", strings.TrimSpace(line))
			}
			count, err := strconv.Atoi(fields[2])
			if err != nil || count < 0 {
				return nil, errors.Errorf("bad ply element count %q", fields[2])
			}
			inVertex = fields[1] == "vertex"
			if inVertex {
				if header.vertices >= 0 {
					return nil, errors.New("ply file declares vertex element twice")
				}
				header.vertices = count
			} else if header.vertices < 0 {
				return nil, errors.Errorf("ply element %q before vertex is not supported", fields[1])
			}
		case "property":
			if !inVertex {
				continue
			}
			if len(fields) != 3 {
				return nil, errors.Errorf("unsupported ply vertex property %q", strings.TrimSpace(line))
			}
			size, ok := plyTypeSizes[fields[1]]
			if !ok {
				return nil, errors.Errorf("unsupported ply property type %q", fields[1])
			}
			header.properties = append(header.properties, plyProperty{name: fields[2], typeName: fields[1], size: size})
		case "end_header":
			if header.format == "" {
				return nil, errors.New("ply header has no format")
			}
			if header.vertices < 0 {
				return nil, errors.New("ply header has no vertex element")
			}
			for _, name := range []string{"x", "y", "z"} {
				if header.index(name) < 0 {
					return nil, errors.Errorf("ply vertex has no %q property", name)
				}
			}
			return header, nil
		default:
			return nil, errors.Errorf("unexpected ply header line %q", strings.TrimSpace(line))
		}
	}
}

func (h *plyHeader) index(name string) int {
	for i, p := range h.properties {
		if p.name == name {
			return i
		}
	}
	return -1
}

// ReadPLY reads the vertices of an ascii or binary ply file. Colors default to white when the
// file carries none. Elements after the vertices are ignored.
func ReadPLY(inRaw io.Reader) (PointCloud, error) {
	in := bufio.NewReader(inRaw)
	header, err := parsePLYHeader(in)
	if err != nil {
		return nil, err
	}
	ix, iy, iz := header.index("x"), header.index("y"), header.index("z")
	ir, ig, ib := header.index("red"), header.index("green"), header.index("blue")

	cloud := NewWithPrealloc(header.vertices)
	values := make([]float64, len(header.properties))
	for v := 0; v < header.vertices; v++ {
		if header.format == "ascii" {
			err = readPLYAsciiRecord(in, header, values)
		} else {
			err = readPLYBinaryRecord(in, header, values)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "reading ply vertex %d", v)
		}
		p := NewPoint(values[ix], values[iy], values[iz], 255, 255, 255)
		if ir >= 0 && ig >= 0 && ib >= 0 {
			p.Color.R = colorComponent(values[ir])
			p.Color.G = colorComponent(values[ig])
			p.Color.B = colorComponent(values[ib])
		}
		cloud.Append(p)
	}
	return cloud, nil
}

func colorComponent(v float64) uint8 {
	return uint8(math.Max(0, math.Min(255, math.Round(v))))
}

func readPLYAsciiRecord(in *bufio.Reader, header *plyHeader, values []float64) error {
	line, err := in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return err
	}
	fields := strings.Fields(line)
	if len(fields) < len(values) {
		return errors.Errorf("expected %d values, got %d", len(values), len(fields))
	}
	for i := range values {
		values[i], err = strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return err
		}
	}
	return nil
}

func readPLYBinaryRecord(in *bufio.Reader, header *plyHeader, values []float64) error {
	var scratch [8]byte
	for i, prop := range header.properties {
		buf := scratch[:prop.size]
		if _, err := io.ReadFull(in, buf); err != nil {
			return err
		}
		values[i] = decodePLYValue(buf, prop.typeName, header.order)
	}
	return nil
}

func decodePLYValue(buf []byte, typeName string, order binary.ByteOrder) float64 {
	switch typeName {
	case "char", "int8":
		return float64(int8(buf[0]))
	case "uchar", "uint8":
		return float64(buf[0])
	case "short", "int16":
		return float64(int16(order.Uint16(buf)))
	case "ushort", "uint16":
		return float64(order.Uint16(buf))
	case "int", "int32":
		return float64(int32(order.Uint32(buf)))
	case "uint", "uint32":
		return float64(order.Uint32(buf))
	case "float", "float32":
		return float64(math.Float32frombits(order.Uint32(buf)))
	default:
		return math.Float64frombits(order.Uint64(buf))
	}
}

// PLYBytes encodes the cloud as a binary ply file in memory.
func PLYBytes(cloud PointCloud) ([]byte, error) {
	var buf bytes.Buffer
	if err := ToPLY(cloud, &buf, PLYBinary); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
