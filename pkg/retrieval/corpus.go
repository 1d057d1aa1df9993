package retrieval

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Corpus names used by the default tool set.
const (
	CorpusProductFAQ    = "product_faq"
	CorpusConversations = "conversations"
)

//go:embed corpora/default.yaml
var defaultCorporaYAML []byte

var corpusNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Document is one source text before chunking.
type Document struct {
	ID   string `yaml:"id"`
	Text string `yaml:"text"`
}

// Corpus is a named, static document set indexed at startup.
type Corpus struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Documents   []Document `yaml:"documents"`
}

type corpusFile struct {
	Corpora []Corpus `yaml:"corpora"`
}

// Validate checks the corpus name and that every document has text.
func (c Corpus) Validate() error {
	if !corpusNamePattern.MatchString(c.Name) {
		return fmt.Errorf("invalid corpus name %q", c.Name)
	}
	if len(c.Documents) == 0 {
		return fmt.Errorf("corpus %s has no documents", c.Name)
	}
	for i, d := range c.Documents {
		if d.Text == "" {
			return fmt.Errorf("corpus %s: document %d has no text", c.Name, i)
		}
	}
	return nil
}

// ParseCorpora decodes a YAML corpus file.
func ParseCorpora(data []byte) ([]Corpus, error) {
	var f corpusFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse corpora: %w", err)
	}
	if len(f.Corpora) == 0 {
		return nil, errors.New("no corpora defined")
	}
	for _, c := range f.Corpora {
		if err := c.Validate(); err != nil {
			return nil, err
		}
	}
	return f.Corpora, nil
}

// DefaultCorpora returns the built-in product/FAQ and conversation corpora.
func DefaultCorpora() []Corpus {
	corpora, err := ParseCorpora(defaultCorporaYAML)
	if err != nil {
		panic(err)
	}
	return corpora
}

// LoadCorpora returns the defaults with any corpus of the same name
// replaced by the one found in files, and new names appended.
func LoadCorpora(files []string) ([]Corpus, error) {
	corpora := DefaultCorpora()
	byName := make(map[string]int, len(corpora))
	for i, c := range corpora {
		byName[c.Name] = i
	}

	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read corpus file %s: %w", path, err)
		}
		loaded, err := ParseCorpora(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		for _, c := range loaded {
			if i, ok := byName[c.Name]; ok {
				corpora[i] = c
				continue
			}
			byName[c.Name] = len(corpora)
			corpora = append(corpora, c)
		}
	}
	return corpora, nil
}

// Find returns the corpus named name.
func Find(corpora []Corpus, name string) (Corpus, bool) {
	for _, c := range corpora {
		if c.Name == name {
			return c, true
		}
	}
	return Corpus{}, false
}
