// Package catalogue persists the best pointer path found for each target
// program in a human-editable JSON file.
package catalogue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"ptrtrail/pointerpath"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
	"github.com/pkg/errors"
)

// DefaultFilename is used when no catalogue file is named
const DefaultFilename = "game_recipes.json"

var (
	ErrInvalidRecipe = errors.New("recipe needs a process name")

	// ErrExternalPath is returned when saving a path rooted outside any
	// module. Such a path only holds for the current run of the target.
	ErrExternalPath = errors.New("external path is not replayable across restarts")
)

// Recipe binds a program name to the path that reaches its text
type Recipe struct {
	ProcessName string                  `json:"process_name"`
	Path        pointerpath.PointerPath `json:"path"`
}

// Catalogue is a file of recipes with an in-memory index. Lookups are exact
// and case-insensitive with any ".exe" suffix ignored.
type Catalogue struct {
	filename string
	mu       sync.Mutex
	recipes  []Recipe
	index    map[string]pointerpath.PointerPath
	log      *logger.Logger
}

// Key normalizes a process name for lookup
func Key(processName string) string {
	k := strings.ToLower(strings.TrimSpace(processName))
	return strings.TrimSuffix(k, ".exe")
}

// Open loads filename, writing a sample file there first if none exists.
// A file that cannot be parsed is reported and leaves the catalogue empty.
func Open(filename string) (*Catalogue, error) {
	if filename == "" {
		filename = DefaultFilename
	}

	c := &Catalogue{
		filename: filename,
		index:    make(map[string]pointerpath.PointerPath),
		log:      logger.NewLogger(coloransi.Color(coloransi.Cyan, coloransi.ColorOrange, "catalogue")),
	}

	data, err := os.ReadFile(filename)
	if errors.Is(err, os.ErrNotExist) {
		c.log.Warn(fmt.Sprintf("catalogue %s not found, writing a sample", filename))
		return c, c.write(sampleRecipes())
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read catalogue %s", filename)
	}

	var recipes []Recipe
	if err := json.Unmarshal(data, &recipes); err != nil {
		c.log.Warn(fmt.Sprintf("catalogue %s is unreadable: %v", filename, err))
		return c, nil
	}

	for _, r := range recipes {
		if strings.TrimSpace(r.ProcessName) == "" {
			continue
		}
		c.recipes = append(c.recipes, r)
		c.index[Key(r.ProcessName)] = r.Path
	}

	c.log.Infoln("Loaded", len(c.index), "recipes from", filename)
	return c, nil
}

// Filename returns the file backing the catalogue
func (c *Catalogue) Filename() string {
	return c.filename
}

// Lookup returns the path stored for processName
func (c *Catalogue) Lookup(processName string) (pointerpath.PointerPath, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.index[Key(processName)]
	if !ok {
		c.log.Debugln("no recipe for", processName)
		return pointerpath.PointerPath{}, false
	}
	return p.Clone(), true
}

// Recipes returns every stored recipe ordered by process name
func (c *Catalogue) Recipes() []Recipe {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Recipe, len(c.recipes))
	copy(out, c.recipes)
	sort.SliceStable(out, func(i, j int) bool {
		return Key(out[i].ProcessName) < Key(out[j].ProcessName)
	})
	return out
}

// Save adds or replaces the recipe for r.ProcessName and rewrites the file.
// External paths are refused unless force is set.
func (c *Catalogue) Save(r Recipe, force bool) error {
	if strings.TrimSpace(r.ProcessName) == "" {
		return ErrInvalidRecipe
	}
	if r.Path.IsExternal() && !force {
		return errors.Wrapf(ErrExternalPath, "save %s", r.ProcessName)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := Key(r.ProcessName)
	replaced := false
	for i := range c.recipes {
		if Key(c.recipes[i].ProcessName) == key {
			c.recipes[i].Path = r.Path
			replaced = true
			break
		}
	}
	if !replaced {
		c.recipes = append(c.recipes, r)
	}
	c.index[key] = r.Path

	if replaced {
		c.log.Infoln("Updated recipe for", r.ProcessName)
	} else {
		c.log.Infoln("Added recipe for", r.ProcessName)
	}
	return c.write(c.recipes)
}

func (c *Catalogue) write(recipes []Recipe) error {
	if recipes == nil {
		recipes = []Recipe{}
	}

	data, err := json.MarshalIndent(recipes, "", "  ")
	if err != nil {
		return errors.WithStack(err)
	}

	if dir := filepath.Dir(c.filename); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrapf(err, "create %s", dir)
		}
	}

	// readers never observe a partially written catalogue
	tmp := c.filename + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.Wrapf(err, "write %s", tmp)
	}
	return errors.Wrapf(os.Rename(tmp, c.filename), "replace %s", c.filename)
}

// sampleRecipes is written on first use as an editable template. Its empty
// process name keeps it out of the index.
func sampleRecipes() []Recipe {
	return []Recipe{{
		ProcessName: "",
		Path: pointerpath.PointerPath{
			ModuleName: "game.exe",
			BaseOffset: 0x1A2B3C,
			Offsets:    []int32{0x40, 0x1F8, 0x10},
		},
	}}
}
