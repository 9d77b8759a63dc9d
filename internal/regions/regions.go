// Package regions implements named geographic regions with altitude and
// heading constraints, grouped into layers. A flight occupies at most one
// region per layer. Region definitions load from YAML files; the polygon
// containment test is delegated to orb's planar package.
package regions

import (
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"gopkg.in/yaml.v3"

	"adsb_actions/internal/geo"
)

// Layer answers region membership for one independent set of regions.
// Contains returns the index of the first matching region, or -1.
type Layer interface {
	Name() string
	Contains(lat, lon, hdg float64, alt int) int
	RegionName(index int) string
}

// Region is a single polygon with altitude and heading bounds.
type Region struct {
	Name     string
	MinAlt   int
	MaxAlt   int
	StartHdg float64
	EndHdg   float64
	polygon  orb.Polygon
}

// Set is a collection of Regions parsed from one definition file.
// It implements Layer.
type Set struct {
	name    string
	Regions []Region
}

// regionFile matches the YAML region definition format.
type regionFile struct {
	Name    string `yaml:"name"`
	Regions []struct {
		Name       string       `yaml:"name"`
		MinAlt     int          `yaml:"min_alt"`
		MaxAlt     int          `yaml:"max_alt"`
		MinHeading *float64     `yaml:"min_heading"`
		MaxHeading *float64     `yaml:"max_heading"`
		Polygon    [][2]float64 `yaml:"polygon"` // [lat, lon] vertices
	} `yaml:"regions"`
}

// LoadFile parses one region layer from a YAML file.
func LoadFile(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read region file: %w", err)
	}
	set, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse region file %s: %w", path, err)
	}
	return set, nil
}

// Parse parses a region layer from YAML bytes.
func Parse(data []byte) (*Set, error) {
	var rf regionFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("unmarshal regions: %w", err)
	}

	set := &Set{name: rf.Name}
	for _, r := range rf.Regions {
		if r.Name == "" {
			return nil, fmt.Errorf("region with empty name")
		}
		if len(r.Polygon) < 3 {
			return nil, fmt.Errorf("region %s: polygon needs at least 3 vertices", r.Name)
		}

		ring := make(orb.Ring, 0, len(r.Polygon)+1)
		for _, v := range r.Polygon {
			ring = append(ring, orb.Point{v[1], v[0]}) // orb points are lon, lat
		}
		if ring[0] != ring[len(ring)-1] {
			ring = append(ring, ring[0])
		}

		startHdg, endHdg := 0.0, 360.0
		if r.MinHeading != nil {
			startHdg = *r.MinHeading
		}
		if r.MaxHeading != nil {
			endHdg = *r.MaxHeading
		}

		set.Regions = append(set.Regions, Region{
			Name:     r.Name,
			MinAlt:   r.MinAlt,
			MaxAlt:   r.MaxAlt,
			StartHdg: startHdg,
			EndHdg:   endHdg,
			polygon:  orb.Polygon{ring},
		})
	}
	return set, nil
}

// NewSet builds a layer programmatically, mainly for tests and embedders
// that construct regions from sources other than YAML.
func NewSet(name string, regions []Region) *Set {
	return &Set{name: name, Regions: regions}
}

// NewRegion builds one region from [lat, lon] vertices.
func NewRegion(name string, minAlt, maxAlt int, startHdg, endHdg float64, vertices [][2]float64) Region {
	ring := make(orb.Ring, 0, len(vertices)+1)
	for _, v := range vertices {
		ring = append(ring, orb.Point{v[1], v[0]})
	}
	if len(ring) > 0 && ring[0] != ring[len(ring)-1] {
		ring = append(ring, ring[0])
	}
	return Region{
		Name:     name,
		MinAlt:   minAlt,
		MaxAlt:   maxAlt,
		StartHdg: startHdg,
		EndHdg:   endHdg,
		polygon:  orb.Polygon{ring},
	}
}

// Name returns the layer's name.
func (s *Set) Name() string { return s.name }

// Contains returns the index of the first region containing the position,
// or -1. A region matches when the point is inside its polygon, the heading
// is within its (possibly wrapping) heading range, and the altitude is
// within its inclusive bounds.
func (s *Set) Contains(lat, lon, hdg float64, alt int) int {
	pt := orb.Point{lon, lat}
	for i, r := range s.Regions {
		if !planar.PolygonContains(r.polygon, pt) {
			continue
		}
		if !geo.HeadingInRange(hdg, r.StartHdg, r.EndHdg) {
			continue
		}
		if alt >= r.MinAlt && alt <= r.MaxAlt {
			return i
		}
	}
	return -1
}

// RegionName returns the name of the region at index, or "" if out of range.
func (s *Set) RegionName(index int) string {
	if index < 0 || index >= len(s.Regions) {
		return ""
	}
	return s.Regions[index].Name
}
