package mapdata

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const squareSVG = `<?xml version="1.0"?>
<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 12969 26674">
  <g id="land">
    <path id="north" d="M0 0 H100 V100 H0 Z"/>
    <path id="south" d="M0 200 H100 V300 H0 Z"/>
  </g>
</svg>`

func TestLoadSVG(t *testing.T) {
	md, err := LoadSVG(strings.NewReader(squareSVG))
	if err != nil {
		t.Fatalf("LoadSVG failed: %v", err)
	}

	if got, want := md.ViewBox, (ViewBox{W: 12969, H: 26674}); got != want {
		t.Errorf("ViewBox = %+v, want %+v", got, want)
	}
	want := []string{"M0 0 H100 V100 H0 Z", "M0 200 H100 V300 H0 Z"}
	if diff := cmp.Diff(want, md.Paths); diff != "" {
		t.Errorf("Paths mismatch (-want +got):\n%s", diff)
	}
	if string(md.Source) != squareSVG {
		t.Errorf("Source not preserved")
	}
}

func TestLoadSVGWidthHeightFallback(t *testing.T) {
	md, err := LoadSVG(strings.NewReader(`<svg width="40px" height="20"><path d="M0 0 H1 V1 Z"/></svg>`))
	if err != nil {
		t.Fatalf("LoadSVG failed: %v", err)
	}
	if got, want := md.ViewBox, (ViewBox{W: 40, H: 20}); got != want {
		t.Errorf("ViewBox = %+v, want %+v", got, want)
	}
}

func TestLoadSVGErrors(t *testing.T) {
	_, err := LoadSVG(strings.NewReader(`<svg><path d="M0 0 Z"/></svg>`))
	if !errors.Is(err, ErrNoViewBox) {
		t.Errorf("missing viewBox: got %v, want ErrNoViewBox", err)
	}

	_, err = LoadSVG(strings.NewReader(`<svg viewBox="0 0 10 10"></svg>`))
	if !errors.Is(err, ErrNoPaths) {
		t.Errorf("no paths: got %v, want ErrNoPaths", err)
	}
}

func TestFromPathsRoundTrip(t *testing.T) {
	vb := ViewBox{W: 10, H: 20}
	md, err := FromPaths(vb, []string{"M0 0 H10 V20 H0 Z"})
	if err != nil {
		t.Fatalf("FromPaths failed: %v", err)
	}

	again, err := LoadSVG(strings.NewReader(string(md.Source)))
	if err != nil {
		t.Fatalf("LoadSVG(synthesized) failed: %v", err)
	}
	if again.ViewBox != vb {
		t.Errorf("ViewBox = %+v, want %+v", again.ViewBox, vb)
	}
	if diff := cmp.Diff(md.Paths, again.Paths); diff != "" {
		t.Errorf("Paths mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadDistricts(t *testing.T) {
	got, err := LoadDistricts(strings.NewReader(`{"3,4":"Lisboa","10, 2":"Porto"}`))
	if err != nil {
		t.Fatalf("LoadDistricts failed: %v", err)
	}
	want := map[Cell]string{{Col: 3, Row: 4}: "Lisboa", {Col: 10, Row: 2}: "Porto"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("districts mismatch (-want +got):\n%s", diff)
	}

	_, err = LoadDistricts(strings.NewReader(`{"3-4":"Lisboa"}`))
	if !errors.Is(err, ErrBadDistrictKey) {
		t.Errorf("bad key: got %v, want ErrBadDistrictKey", err)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	svgPath := filepath.Join(dir, "map.svg")
	districtsPath := filepath.Join(dir, "districts.json")
	if err := os.WriteFile(svgPath, []byte(squareSVG), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(districtsPath, []byte(`{"0,0":"Braga"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	md, err := LoadFile(svgPath, districtsPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if name, ok := md.District(Cell{}); !ok || name != "Braga" {
		t.Errorf("District(0,0) = %q, %v", name, ok)
	}
	if _, ok := md.District(Cell{Col: 1}); ok {
		t.Errorf("District(1,0) should be unmapped")
	}
}
