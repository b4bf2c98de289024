// Package heuristic classifies uploads by filename, conversation context and
// file shape. Rules live in an embedded YAML file that can be replaced at
// startup.
package heuristic

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/notarial-intake/internal/core/domain"
	"github.com/kirillkom/notarial-intake/internal/core/ports"
)

//go:embed rules.yaml
var defaultRules []byte

type Rule struct {
	Subtype  domain.Subtype `yaml:"subtype"`
	Keywords []string       `yaml:"keywords"`
}

type Rules struct {
	Filename   []Rule `yaml:"filename"`
	Context    []Rule `yaml:"context"`
	Heuristics struct {
		ImageIdentificationMaxBytes int64 `yaml:"image_identification_max_bytes"`
	} `yaml:"heuristics"`
}

type Classifier struct {
	filename []compiledRule
	context  []compiledRule
	maxImage int64
}

var _ ports.TypeClassifier = (*Classifier)(nil)

type compiledRule struct {
	subtype  domain.Subtype
	keywords []string
}

// New builds a classifier from the rules at path, or from the embedded
// defaults when path is empty.
func New(path string) (*Classifier, error) {
	raw := defaultRules
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read classifier rules: %w", err)
		}
		raw = data
	}
	var rules Rules
	if err := yaml.Unmarshal(raw, &rules); err != nil {
		return nil, fmt.Errorf("parse classifier rules: %w", err)
	}
	return FromRules(rules)
}

func FromRules(rules Rules) (*Classifier, error) {
	filename, err := compile("filename", rules.Filename)
	if err != nil {
		return nil, err
	}
	questions, err := compile("context", rules.Context)
	if err != nil {
		return nil, err
	}
	return &Classifier{
		filename: filename,
		context:  questions,
		maxImage: rules.Heuristics.ImageIdentificationMaxBytes,
	}, nil
}

func compile(section string, rules []Rule) ([]compiledRule, error) {
	out := make([]compiledRule, 0, len(rules))
	for i, r := range rules {
		if !r.Subtype.Valid() {
			return nil, fmt.Errorf("classifier rules: %s[%d]: unknown subtype %q", section, i, r.Subtype)
		}
		kws := make([]string, 0, len(r.Keywords))
		for _, kw := range r.Keywords {
			if k := tokens(kw); k != "" {
				kws = append(kws, k)
			}
		}
		out = append(out, compiledRule{subtype: r.Subtype, keywords: kws})
	}
	return out, nil
}

// Classify is deterministic: filename keywords first, then the last system
// question, then the file's MIME type and size, then deed.
func (c *Classifier) Classify(file domain.RawFile, lastQuestion string) domain.Subtype {
	name := strings.TrimSuffix(file.Name, filepath.Ext(file.Name))
	if s, ok := match(c.filename, tokens(name)); ok {
		return s
	}
	if s, ok := match(c.context, tokens(lastQuestion)); ok {
		return s
	}
	if isImage(file) && (c.maxImage <= 0 || file.Size() <= c.maxImage) {
		return domain.SubtypeIdentification
	}
	return domain.SubtypeDeed
}

func match(rules []compiledRule, text string) (domain.Subtype, bool) {
	if text == "" {
		return "", false
	}
	padded := " " + text + " "
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(padded, " "+kw+" ") {
				return r.subtype, true
			}
		}
	}
	return "", false
}

// tokens normalizes s to space-separated lower-case words without accents.
func tokens(s string) string {
	n := domain.NormalizeName(s)
	fields := strings.FieldsFunc(n, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(fields, " ")
}

func isImage(file domain.RawFile) bool {
	if strings.HasPrefix(strings.ToLower(file.MimeType), "image/") {
		return true
	}
	switch strings.ToLower(filepath.Ext(file.Name)) {
	case ".jpg", ".jpeg", ".png", ".webp", ".heic", ".tif", ".tiff":
		return true
	}
	return false
}
