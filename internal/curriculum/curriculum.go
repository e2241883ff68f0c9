// Package curriculum holds the static stage catalog and the rank table.
// A Catalog is read-only after loading and safe for concurrent use.
package curriculum

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/jonathan/levelup/internal/schemas"
	schemafiles "github.com/jonathan/levelup/schemas"
	"gopkg.in/yaml.v3"
)

// DefaultMaxScore is the task score ceiling when the catalog does not set one.
const DefaultMaxScore = 50

//go:embed catalog.yaml
var defaultCatalog []byte

// Slot identifies one of the two tasks of a stage.
type Slot string

const (
	SlotA Slot = "a"
	SlotB Slot = "b"
)

// Slots lists the task slots in display order.
var Slots = []Slot{SlotA, SlotB}

// ParseSlot accepts "a", "b", "A" or "B".
func ParseSlot(s string) (Slot, bool) {
	switch Slot(strings.ToLower(strings.TrimSpace(s))) {
	case SlotA:
		return SlotA, true
	case SlotB:
		return SlotB, true
	}
	return "", false
}

// Task is one assignment within a stage.
type Task struct {
	Slot         Slot     `yaml:"slot" json:"slot"`
	Label        string   `yaml:"label" json:"label"`
	Technology   string   `yaml:"technology" json:"technology,omitempty"`
	Description  string   `yaml:"description" json:"description,omitempty"`
	Requirements []string `yaml:"requirements" json:"requirements"`
	MaxScore     int      `yaml:"maxScore" json:"maxScore"`
}

// Stage is a catalog entry. UnlockThreshold is the combined best score on
// this stage's two tasks that unlocks the following stage.
type Stage struct {
	ID              int    `yaml:"id" json:"id"`
	Title           string `yaml:"title" json:"title"`
	Theme           string `yaml:"theme" json:"theme,omitempty"`
	Badge           string `yaml:"badge" json:"badge"`
	BadgeIcon       string `yaml:"badgeIcon" json:"badgeIcon,omitempty"`
	UnlockThreshold int    `yaml:"unlockThreshold" json:"unlockThreshold"`
	Tasks           []Task `yaml:"tasks" json:"tasks"`
}

// Task returns the stage's task in the given slot.
func (s Stage) Task(slot Slot) (Task, bool) {
	for _, t := range s.Tasks {
		if t.Slot == slot {
			return t, true
		}
	}
	return Task{}, false
}

// MaxScore is the highest combined score the stage can produce.
func (s Stage) MaxScore() int {
	total := 0
	for _, t := range s.Tasks {
		total += t.MaxScore
	}
	return total
}

// Rank is one tier of the experience table. A tier covers
// [MinExperience, next tier's MinExperience); the last tier is unbounded.
type Rank struct {
	Title         string `yaml:"title" json:"title"`
	MinExperience int    `yaml:"minExperience" json:"minExperience"`
}

// Catalog is the full curriculum.
type Catalog struct {
	Stages []Stage `yaml:"stages" json:"stages"`
	Ranks  []Rank  `yaml:"ranks" json:"ranks"`
}

// Default returns the embedded catalog. It panics if the embedded file is
// invalid, which is a build defect.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("curriculum: embedded catalog is invalid: %v", err))
	}
	return c
}

// LoadFile reads and validates a catalog from a YAML file.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes a YAML catalog, validates it against the catalog schema and
// checks the structural rules the schema cannot express.
func Parse(data []byte) (*Catalog, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse catalog YAML: %w", err)
	}
	if err := schemas.ValidateValue(schemafiles.Curriculum, raw); err != nil {
		return nil, err
	}

	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	c.normalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) normalize() {
	sort.Slice(c.Stages, func(i, j int) bool { return c.Stages[i].ID < c.Stages[j].ID })
	sort.Slice(c.Ranks, func(i, j int) bool { return c.Ranks[i].MinExperience < c.Ranks[j].MinExperience })
	for i := range c.Stages {
		for j := range c.Stages[i].Tasks {
			t := &c.Stages[i].Tasks[j]
			if slot, ok := ParseSlot(string(t.Slot)); ok {
				t.Slot = slot
			}
			if t.MaxScore == 0 {
				t.MaxScore = DefaultMaxScore
			}
		}
		sort.Slice(c.Stages[i].Tasks, func(a, b int) bool {
			return c.Stages[i].Tasks[a].Slot < c.Stages[i].Tasks[b].Slot
		})
	}
}

// Validate checks that stage ids run 1..N without gaps, that every stage has
// exactly one task per slot, and that the rank table starts at zero with
// strictly increasing tiers.
func (c *Catalog) Validate() error {
	if len(c.Stages) == 0 {
		return fmt.Errorf("catalog has no stages")
	}
	for i, s := range c.Stages {
		if s.ID != i+1 {
			return fmt.Errorf("stage ids must run 1..%d without gaps, found %d at position %d", len(c.Stages), s.ID, i+1)
		}
		for _, slot := range Slots {
			n := 0
			for _, t := range s.Tasks {
				if t.Slot == slot {
					n++
				}
			}
			if n != 1 {
				return fmt.Errorf("stage %d must have exactly one task in slot %s, found %d", s.ID, slot, n)
			}
		}
		if s.UnlockThreshold > s.MaxScore() {
			return fmt.Errorf("stage %d unlock threshold %d exceeds its max score %d", s.ID, s.UnlockThreshold, s.MaxScore())
		}
	}

	if len(c.Ranks) == 0 || c.Ranks[0].MinExperience != 0 {
		return fmt.Errorf("rank table must start at 0 experience")
	}
	for i := 1; i < len(c.Ranks); i++ {
		if c.Ranks[i].MinExperience == c.Ranks[i-1].MinExperience {
			return fmt.Errorf("ranks %q and %q overlap", c.Ranks[i-1].Title, c.Ranks[i].Title)
		}
	}
	return nil
}

// Stage looks up a stage by id.
func (c *Catalog) Stage(id int) (Stage, bool) {
	if id < 1 || id > len(c.Stages) {
		return Stage{}, false
	}
	return c.Stages[id-1], true
}

// FinalStage is the id of the last stage.
func (c *Catalog) FinalStage() int {
	return len(c.Stages)
}

// IsFinal reports whether id is the last stage.
func (c *Catalog) IsFinal(id int) bool {
	return id == c.FinalStage()
}

// TaskKeys returns every task key in catalog order.
func (c *Catalog) TaskKeys() []string {
	keys := make([]string, 0, len(c.Stages)*len(Slots))
	for _, s := range c.Stages {
		for _, t := range s.Tasks {
			keys = append(keys, TaskKey(s.ID, t.Slot))
		}
	}
	return keys
}

// MaxExperience is the experience earned by a perfect score on every task.
func (c *Catalog) MaxExperience() int {
	total := 0
	for _, s := range c.Stages {
		total += s.MaxScore()
	}
	return total
}

// RankFor returns the title of the tier containing xp.
func (c *Catalog) RankFor(xp int) string {
	title := c.Ranks[0].Title
	for _, r := range c.Ranks {
		if xp >= r.MinExperience {
			title = r.Title
		}
	}
	return title
}

// NextRank returns the first tier above xp, or false at the top tier.
func (c *Catalog) NextRank(xp int) (Rank, bool) {
	for _, r := range c.Ranks {
		if r.MinExperience > xp {
			return r, true
		}
	}
	return Rank{}, false
}

// LowestRank is the title new users start with.
func (c *Catalog) LowestRank() string {
	return c.Ranks[0].Title
}

// RankIndex returns the position of title in the rank table, or -1.
func (c *Catalog) RankIndex(title string) int {
	for i, r := range c.Ranks {
		if r.Title == title {
			return i
		}
	}
	return -1
}

// TaskKey builds the storage key of a task, e.g. "s1a".
func TaskKey(stageID int, slot Slot) string {
	return "s" + strconv.Itoa(stageID) + string(slot)
}

// ParseTaskKey splits a task key into stage id and slot.
func ParseTaskKey(key string) (int, Slot, bool) {
	if len(key) < 3 || key[0] != 's' {
		return 0, "", false
	}
	slot, ok := ParseSlot(key[len(key)-1:])
	if !ok {
		return 0, "", false
	}
	id, err := strconv.Atoi(key[1 : len(key)-1])
	if err != nil || id < 1 {
		return 0, "", false
	}
	return id, slot, true
}
