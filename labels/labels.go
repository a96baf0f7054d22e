package labels

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Count is the number of categories the detector was trained on.
const Count = 42

var defaultNames = [Count]string{
	"achichuk", "airan-katyk", "asip", "bauyrsak", "beshbarmak-w-kazy",
	"beshbarmak-wo-kazy", "chak-chak", "cheburek", "doner-lavash", "doner-nan",
	"hvorost", "irimshik", "kattama-nan", "kazy-karta", "kurt", "kuyrdak",
	"kymyz-kymyran", "lagman-fried", "lagman-w-soup", "lagman-wo-soup", "manty",
	"naryn", "nauryz-kozhe", "orama", "plov", "samsa", "shashlyk-chicken",
	"shashlyk-chicken-v", "shashlyk-kuskovoi", "shashlyk-kuskovoi-v",
	"shashlyk-minced-meat", "sheep-head", "shelpek", "shorpa", "soup-plain",
	"sushki", "suzbe", "taba-nan", "talkan-zhent", "tushpara-fried",
	"tushpara-w-soup", "tushpara-wo-soup",
}

// Table maps zero-based class ids to category names. The zero value is not
// usable; build one with Default, New or Load.
type Table struct {
	names [Count]string
}

// Default returns the table the shipped model was trained with.
func Default() *Table {
	return &Table{names: defaultNames}
}

// New validates names and copies them into a table.
func New(names []string) (*Table, error) {
	if len(names) != Count {
		return nil, fmt.Errorf("label table must have exactly %d entries, got %d", Count, len(names))
	}

	t := &Table{}
	seen := make(map[string]int, Count)
	for i, name := range names {
		if name == "" {
			return nil, fmt.Errorf("label %d is empty", i)
		}
		if prev, ok := seen[name]; ok {
			return nil, fmt.Errorf("label %q repeated at %d and %d", name, prev, i)
		}
		seen[name] = i
		t.names[i] = name
	}
	return t, nil
}

// Load reads a YAML sequence of names from path.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read labels file: %w", err)
	}

	var names []string
	if err := yaml.Unmarshal(data, &names); err != nil {
		return nil, fmt.Errorf("parse labels file: %w", err)
	}
	return New(names)
}

// Name returns the label for classID.
func (t *Table) Name(classID int) (string, error) {
	if classID < 0 || classID >= Count {
		return "", fmt.Errorf("class id %d out of range", classID)
	}
	return t.names[classID], nil
}

func (t *Table) Len() int {
	return Count
}

// Names returns a copy of the table in class id order.
func (t *Table) Names() []string {
	out := make([]string, Count)
	copy(out, t.names[:])
	return out
}
