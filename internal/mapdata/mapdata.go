// Package mapdata loads the vector outline of the map and its district
// mapping. A MapData is immutable once loaded.
package mapdata

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

var (
	ErrNoViewBox      = errors.New("mapdata: svg has no usable viewBox")
	ErrNoPaths        = errors.New("mapdata: svg has no paths")
	ErrBadDistrictKey = errors.New("mapdata: bad district key")
)

// Cell is a logical grid coordinate.
type Cell struct {
	Col int `json:"col"`
	Row int `json:"row"`
}

func (c Cell) String() string {
	return strconv.Itoa(c.Col) + "," + strconv.Itoa(c.Row)
}

// ViewBox is the SVG user-space rectangle the paths are drawn in.
type ViewBox struct {
	X, Y, W, H float64
}

func (v ViewBox) Valid() bool {
	return v.W > 0 && v.H > 0
}

// MapData is the vector source for rasterization.
type MapData struct {
	Source    []byte
	ViewBox   ViewBox
	Paths     []string
	Districts map[Cell]string
}

// District returns the district name of a cell, if mapped.
func (m *MapData) District(c Cell) (string, bool) {
	if m == nil || m.Districts == nil {
		return "", false
	}
	name, ok := m.Districts[c]
	return name, ok
}

// LoadSVG reads an SVG document and keeps its bytes as the raster source.
func LoadSVG(r io.Reader) (*MapData, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("mapdata: read svg: %w", err)
	}

	dec := xml.NewDecoder(bytes.NewReader(src))
	var (
		vb      ViewBox
		sawRoot bool
		paths   []string
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("mapdata: parse svg: %w", err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "svg":
			if sawRoot {
				continue
			}
			sawRoot = true
			vb = rootViewBox(se.Attr)
		case "path":
			if d := attr(se.Attr, "d"); strings.TrimSpace(d) != "" {
				paths = append(paths, d)
			}
		}
	}

	if !vb.Valid() {
		return nil, ErrNoViewBox
	}
	if len(paths) == 0 {
		return nil, ErrNoPaths
	}
	return &MapData{Source: src, ViewBox: vb, Paths: paths}, nil
}

// FromPaths builds a MapData from raw path strings, synthesizing an SVG
// source that fills every path in opaque black.
func FromPaths(vb ViewBox, paths []string) (*MapData, error) {
	if !vb.Valid() {
		return nil, ErrNoViewBox
	}
	if len(paths) == 0 {
		return nil, ErrNoPaths
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, `<svg xmlns="http://www.w3.org/2000/svg" viewBox="%g %g %g %g">`, vb.X, vb.Y, vb.W, vb.H)
	for _, p := range paths {
		buf.WriteString(`<path fill="#000000" d="`)
		_ = xml.EscapeText(&buf, []byte(p))
		buf.WriteString(`"/>`)
	}
	buf.WriteString(`</svg>`)

	return &MapData{
		Source:  buf.Bytes(),
		ViewBox: vb,
		Paths:   append([]string(nil), paths...),
	}, nil
}

// LoadDistricts reads a JSON object of "col,row" keys to district names.
func LoadDistricts(r io.Reader) (map[Cell]string, error) {
	var raw map[string]string
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("mapdata: decode districts: %w", err)
	}
	out := make(map[Cell]string, len(raw))
	for k, name := range raw {
		c, err := ParseCell(k)
		if err != nil {
			return nil, err
		}
		out[c] = name
	}
	return out, nil
}

// ParseCell parses "col,row".
func ParseCell(s string) (Cell, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return Cell{}, fmt.Errorf("%w: %q", ErrBadDistrictKey, s)
	}
	col, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return Cell{}, fmt.Errorf("%w: %q", ErrBadDistrictKey, s)
	}
	row, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return Cell{}, fmt.Errorf("%w: %q", ErrBadDistrictKey, s)
	}
	return Cell{Col: col, Row: row}, nil
}

// LoadFile loads the SVG at svgPath and, when districtsPath is not empty,
// the district mapping next to it.
func LoadFile(svgPath, districtsPath string) (*MapData, error) {
	f, err := os.Open(svgPath)
	if err != nil {
		return nil, fmt.Errorf("mapdata: open svg: %w", err)
	}
	defer f.Close()

	md, err := LoadSVG(f)
	if err != nil {
		return nil, err
	}

	if districtsPath == "" {
		return md, nil
	}
	df, err := os.Open(districtsPath)
	if err != nil {
		return nil, fmt.Errorf("mapdata: open districts: %w", err)
	}
	defer df.Close()

	if md.Districts, err = LoadDistricts(df); err != nil {
		return nil, err
	}
	return md, nil
}

func attr(attrs []xml.Attr, name string) string {
	for _, a := range attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func rootViewBox(attrs []xml.Attr) ViewBox {
	if raw := attr(attrs, "viewBox"); raw != "" {
		fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ' ' || r == ',' })
		if len(fields) == 4 {
			var nums [4]float64
			for i, f := range fields {
				n, err := strconv.ParseFloat(f, 64)
				if err != nil {
					return ViewBox{}
				}
				nums[i] = n
			}
			return ViewBox{X: nums[0], Y: nums[1], W: nums[2], H: nums[3]}
		}
	}
	w, werr := parseLength(attr(attrs, "width"))
	h, herr := parseLength(attr(attrs, "height"))
	if werr != nil || herr != nil {
		return ViewBox{}
	}
	return ViewBox{W: w, H: h}
}

func parseLength(s string) (float64, error) {
	s = strings.TrimSuffix(strings.TrimSpace(s), "px")
	return strconv.ParseFloat(s, 64)
}
