package corpus

import (
	"embed"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// embeds the hand-curated intent corpus at compile time
//
//go:embed data/intents.yaml
var corpusFS embed.FS

const corpusFile = "data/intents.yaml"

// Example is a labelled utterance.
type Example struct {
	Text   string `json:"text"`
	Intent string `json:"intent"`
}

type intentDef struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Examples    []string `yaml:"examples"`
}

type corpusFileFormat struct {
	Version int         `yaml:"version"`
	Intents []intentDef `yaml:"intents"`
}

// Corpus is the original training corpus and the set of known intents.
// It is read-only after loading.
type Corpus struct {
	order        []string
	descriptions map[string]string
	examples     map[string][]string
}

// Load parses the embedded corpus.
func Load() (*Corpus, error) {
	data, err := corpusFS.ReadFile(corpusFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus file: %w", err)
	}
	return Parse(data)
}

// Parse builds a corpus from YAML.
func Parse(data []byte) (*Corpus, error) {
	var file corpusFileFormat
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse corpus: %w", err)
	}
	if len(file.Intents) == 0 {
		return nil, fmt.Errorf("corpus defines no intents")
	}

	c := &Corpus{
		descriptions: make(map[string]string),
		examples:     make(map[string][]string),
	}
	for _, def := range file.Intents {
		if def.Name == "" {
			return nil, fmt.Errorf("corpus intent without a name")
		}
		if _, dup := c.examples[def.Name]; dup {
			return nil, fmt.Errorf("duplicate intent in corpus: %s", def.Name)
		}
		c.order = append(c.order, def.Name)
		c.descriptions[def.Name] = def.Description
		c.examples[def.Name] = append([]string(nil), def.Examples...)
	}
	return c, nil
}

// Intents returns the known intent labels in corpus order.
func (c *Corpus) Intents() []string {
	return append([]string(nil), c.order...)
}

func (c *Corpus) Has(intent string) bool {
	_, ok := c.examples[intent]
	return ok
}

func (c *Corpus) Count(intent string) int {
	return len(c.examples[intent])
}

func (c *Corpus) ExamplesFor(intent string) []string {
	return append([]string(nil), c.examples[intent]...)
}

func (c *Corpus) Description(intent string) string {
	return c.descriptions[intent]
}

// Examples flattens the corpus into (text, intent) pairs.
func (c *Corpus) Examples() []Example {
	var out []Example
	for _, intent := range c.order {
		for _, text := range c.examples[intent] {
			out = append(out, Example{Text: text, Intent: intent})
		}
	}
	return out
}

// Size is the total number of examples.
func (c *Corpus) Size() int {
	n := 0
	for _, ex := range c.examples {
		n += len(ex)
	}
	return n
}

// Distribution is each intent's share of the corpus.
func (c *Corpus) Distribution() map[string]float64 {
	total := float64(c.Size())
	dist := make(map[string]float64, len(c.examples))
	if total == 0 {
		return dist
	}
	for intent, ex := range c.examples {
		dist[intent] = float64(len(ex)) / total
	}
	return dist
}

// SortedIntents returns the known intents alphabetically.
func (c *Corpus) SortedIntents() []string {
	out := c.Intents()
	sort.Strings(out)
	return out
}
