package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"dndj/model"

	"gopkg.in/yaml.v3"
)

// ErrInvalidCatalog is returned for catalog files that cannot be turned into
// a Catalog.
var ErrInvalidCatalog = errors.New("invalid catalog")

const (
	includeTag       = "!include"
	defaultVolume    = 100
	defaultLoop      = true
	defaultShuffle   = false
	defaultSortOrder = true
)

type rawCatalog struct {
	Volume    *int       `yaml:"volume"`
	Directory string     `yaml:"directory"`
	Sort      *bool      `yaml:"sort"`
	Groups    []rawGroup `yaml:"groups"`
}

type rawGroup struct {
	Name       string         `yaml:"name"`
	Directory  string         `yaml:"directory"`
	Sort       *bool          `yaml:"sort"`
	TrackLists []rawTrackList `yaml:"track_lists"`
}

type rawTrackList struct {
	Name      string     `yaml:"name"`
	Directory string     `yaml:"directory"`
	Volume    *int       `yaml:"volume"`
	Loop      *bool      `yaml:"loop"`
	Shuffle   *bool      `yaml:"shuffle"`
	Next      string     `yaml:"next"`
	Tracks    []rawTrack `yaml:"tracks"`
}

// rawTrack accepts either a bare file name/URL or a mapping with trim points.
type rawTrack struct {
	File    string
	StartAt *offset
	EndAt   *offset
}

func (t *rawTrack) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return value.Decode(&t.File)
	}
	var m struct {
		File    string  `yaml:"file"`
		StartAt *offset `yaml:"start_at"`
		EndAt   *offset `yaml:"end_at"`
	}
	if err := value.Decode(&m); err != nil {
		return err
	}
	t.File, t.StartAt, t.EndAt = m.File, m.StartAt, m.EndAt
	return nil
}

// offset is a trim point: integer milliseconds or an "HH:MM:SS" string.
type offset time.Duration

func (o *offset) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: time offset must be a scalar", value.Line)
	}
	if value.Tag == "!!int" {
		ms, err := strconv.ParseInt(value.Value, 10, 64)
		if err != nil {
			return fmt.Errorf("line %d: %w", value.Line, err)
		}
		*o = offset(time.Duration(ms) * time.Millisecond)
		return nil
	}
	d, err := ParseClock(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*o = offset(d)
	return nil
}

// ParseClock parses "HH:MM:SS" into a duration.
func ParseClock(s string) (time.Duration, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("time %q is not in HH:MM:SS format", s)
	}
	limits := []int{-1, 59, 59}
	var fields [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || (limits[i] >= 0 && n > limits[i]) {
			return 0, fmt.Errorf("time %q is not in HH:MM:SS format", s)
		}
		fields[i] = n
	}
	return time.Duration(fields[0])*time.Hour +
		time.Duration(fields[1])*time.Minute +
		time.Duration(fields[2])*time.Second, nil
}

// Load reads a catalog file. The catalog mapping may sit at the document root
// or under a "music" key; "!include path" splices another file, resolved
// relative to the including one.
func Load(path string) (*model.Catalog, error) {
	root, err := loadNode(path, nil)
	if err != nil {
		return nil, err
	}

	if root.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(root.Content); i += 2 {
			if root.Content[i].Value == "music" {
				root = root.Content[i+1]
				break
			}
		}
	}

	var raw rawCatalog
	if err := root.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidCatalog, path, err)
	}
	c, err := build(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidCatalog, path, err)
	}
	return c, nil
}

// loadNode parses path and resolves its includes. stack holds the files
// currently being included, for cycle detection.
func loadNode(path string, stack []string) (*yaml.Node, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	for _, p := range stack {
		if p == abs {
			return nil, fmt.Errorf("%w: include cycle through %s", ErrInvalidCatalog, path)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidCatalog, path, err)
	}
	if len(doc.Content) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrInvalidCatalog, path)
	}

	root := doc.Content[0]
	if err := resolveIncludes(root, filepath.Dir(path), append(stack, abs)); err != nil {
		return nil, err
	}
	return root, nil
}

func resolveIncludes(node *yaml.Node, dir string, stack []string) error {
	if node.Kind == yaml.ScalarNode && node.Tag == includeTag {
		included, err := loadNode(filepath.Join(dir, node.Value), stack)
		if err != nil {
			return err
		}
		*node = *included
		return nil
	}
	for _, child := range node.Content {
		if err := resolveIncludes(child, dir, stack); err != nil {
			return err
		}
	}
	return nil
}

func build(raw rawCatalog) (*model.Catalog, error) {
	if raw.Volume == nil {
		return nil, errors.New("volume is required")
	}
	if !model.ValidVolume(*raw.Volume) {
		return nil, fmt.Errorf("volume %d out of range [0,100]", *raw.Volume)
	}

	c := &model.Catalog{
		DefaultVolume:    *raw.Volume,
		DefaultDirectory: raw.Directory,
	}
	for _, rg := range raw.Groups {
		g, err := buildGroup(rg)
		if err != nil {
			return nil, err
		}
		c.Groups = append(c.Groups, g)
	}
	if boolOr(raw.Sort, defaultSortOrder) {
		sort.SliceStable(c.Groups, func(i, j int) bool { return c.Groups[i].Name < c.Groups[j].Name })
	}
	return c, nil
}

func buildGroup(rg rawGroup) (*model.Group, error) {
	if rg.Name == "" {
		return nil, errors.New("group without name")
	}
	g := &model.Group{Name: rg.Name, Directory: rg.Directory}
	for _, rtl := range rg.TrackLists {
		tl, err := buildTrackList(rtl)
		if err != nil {
			return nil, fmt.Errorf("group %q: %w", rg.Name, err)
		}
		g.TrackLists = append(g.TrackLists, tl)
	}
	if boolOr(rg.Sort, defaultSortOrder) {
		sort.SliceStable(g.TrackLists, func(i, j int) bool { return g.TrackLists[i].Name < g.TrackLists[j].Name })
	}
	return g, nil
}

func buildTrackList(rtl rawTrackList) (*model.TrackList, error) {
	if rtl.Name == "" {
		return nil, errors.New("track list without name")
	}
	tl := &model.TrackList{
		Name:      rtl.Name,
		Directory: rtl.Directory,
		Volume:    defaultVolume,
		Loop:      boolOr(rtl.Loop, defaultLoop),
		Shuffle:   boolOr(rtl.Shuffle, defaultShuffle),
		Next:      rtl.Next,
	}
	if rtl.Volume != nil {
		if !model.ValidVolume(*rtl.Volume) {
			return nil, fmt.Errorf("track list %q: volume %d out of range [0,100]", rtl.Name, *rtl.Volume)
		}
		tl.Volume = *rtl.Volume
	}

	for i, rt := range rtl.Tracks {
		if rt.File == "" {
			return nil, fmt.Errorf("track list %q: track %d has no file", rtl.Name, i)
		}
		tr := model.Track{Source: model.NewSource(rt.File)}
		if rt.StartAt != nil {
			d := time.Duration(*rt.StartAt)
			tr.StartAt = &d
		}
		if rt.EndAt != nil {
			d := time.Duration(*rt.EndAt)
			tr.EndAt = &d
		}
		if tr.StartAt != nil && tr.EndAt != nil && *tr.EndAt <= *tr.StartAt {
			return nil, fmt.Errorf("track list %q: track %q ends before it starts", rtl.Name, rt.File)
		}
		tl.Tracks = append(tl.Tracks, tr)
	}
	return tl, nil
}

func boolOr(b *bool, fallback bool) bool {
	if b == nil {
		return fallback
	}
	return *b
}
