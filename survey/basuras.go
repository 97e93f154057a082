package survey

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

//go:embed rules/basuras.yaml
var defaultBasuraRules []byte

// BasuraFlags is the flat form of the waste disposal answer sent to the API.
type BasuraFlags struct {
	Recolector bool `json:"basuras_recolector"`
	Quemada    bool `json:"basuras_quemada"`
	Enterrada  bool `json:"basuras_enterrada"`
	Recicla    bool `json:"basuras_recicla"`
	AireLibre  bool `json:"basuras_aire_libre"`
	NoAplica   bool `json:"basuras_no_aplica"`
}

// Disposicion converts the flags to the nested session form.
func (f BasuraFlags) Disposicion() DisposicionBasuras {
	return DisposicionBasuras{
		Recolector: f.Recolector,
		Quemada:    f.Quemada,
		Enterrada:  f.Enterrada,
		Recicla:    f.Recicla,
		AireLibre:  f.AireLibre,
		NoAplica:   f.NoAplica,
	}
}

// FlagsFromDisposicion converts the nested session form to flat flags.
func FlagsFromDisposicion(d DisposicionBasuras) BasuraFlags {
	return BasuraFlags{
		Recolector: d.Recolector,
		Quemada:    d.Quemada,
		Enterrada:  d.Enterrada,
		Recicla:    d.Recicla,
		AireLibre:  d.AireLibre,
		NoAplica:   d.NoAplica,
	}
}

func (f *BasuraFlags) set(field BasuraField) bool {
	switch field {
	case BasuraRecolector:
		f.Recolector = true
	case BasuraQuemada:
		f.Quemada = true
	case BasuraEnterrada:
		f.Enterrada = true
	case BasuraRecicla:
		f.Recicla = true
	case BasuraAireLibre:
		f.AireLibre = true
	case BasuraNoAplica:
		f.NoAplica = true
	default:
		return false
	}
	return true
}

func (f BasuraFlags) hasDisposal() bool {
	return f.Recolector || f.Quemada || f.Enterrada || f.Recicla || f.AireLibre
}

// CatalogOption is one entry of the disposición de basuras catalog as served
// to the wizard. Category, when the catalog carries it, names the flag
// directly and skips keyword matching.
type CatalogOption struct {
	Value    string `json:"value"`
	Label    string `json:"label"`
	Category string `json:"category,omitempty"`
}

type basuraRule struct {
	Flag     BasuraField `yaml:"flag"`
	Keywords []string    `yaml:"keywords"`
}

type basuraRuleFile struct {
	Categories []basuraRule `yaml:"categories"`
}

// Categorizer maps catalog labels onto BasuraFlags.
type Categorizer struct {
	rules  []basuraRule
	logger *zap.Logger
}

// CategorizerOption customises a Categorizer.
type CategorizerOption func(*Categorizer)

// WithCategorizerLogger sets the logger used for unmapped selections.
func WithCategorizerLogger(logger *zap.Logger) CategorizerOption {
	return func(c *Categorizer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCategorizer builds a Categorizer from the embedded keyword lists.
func NewCategorizer(opts ...CategorizerOption) *Categorizer {
	rules, err := parseBasuraRules(bytes.NewReader(defaultBasuraRules))
	if err != nil {
		panic(fmt.Sprintf("survey: embedded basura rules: %v", err))
	}
	c := &Categorizer{rules: rules, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LoadCategorizer builds a Categorizer from a YAML keyword file.
func LoadCategorizer(path string, opts ...CategorizerOption) (*Categorizer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open basura rules: %w", err)
	}
	defer f.Close()

	rules, err := parseBasuraRules(f)
	if err != nil {
		return nil, fmt.Errorf("parse basura rules %s: %w", path, err)
	}
	c := &Categorizer{rules: rules, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func parseBasuraRules(r io.Reader) ([]basuraRule, error) {
	var file basuraRuleFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		return nil, err
	}
	if len(file.Categories) == 0 {
		return nil, fmt.Errorf("no categories defined")
	}
	for i, rule := range file.Categories {
		var probe BasuraFlags
		if !probe.set(rule.Flag) || rule.Flag == BasuraNoAplica {
			return nil, fmt.Errorf("category %d: unsupported flag %q", i, rule.Flag)
		}
		kws := make([]string, 0, len(rule.Keywords))
		for _, kw := range rule.Keywords {
			if kw = foldLabel(kw); kw != "" {
				kws = append(kws, kw)
			}
		}
		file.Categories[i].Keywords = kws
	}
	return file.Categories, nil
}

// Categorize returns the flags for the selected catalog values. An empty
// selection means "no aplica". Selections that cannot be mapped are logged
// and dropped.
func (c *Categorizer) Categorize(selectedIDs []string, options []CatalogOption) BasuraFlags {
	if len(selectedIDs) == 0 {
		return BasuraFlags{NoAplica: true}
	}

	byValue := make(map[string]CatalogOption, len(options))
	for _, opt := range options {
		byValue[strings.TrimSpace(opt.Value)] = opt
	}

	var flags BasuraFlags
	for _, id := range selectedIDs {
		opt, ok := byValue[strings.TrimSpace(id)]
		if !ok {
			c.logger.Warn("disposicion basuras selection not in catalog", zap.String("value", id))
			continue
		}
		if opt.Category != "" && flags.set(BasuraField(strings.ToLower(strings.TrimSpace(opt.Category)))) {
			continue
		}
		field, ok := c.match(opt.Label)
		if !ok {
			c.logger.Warn("disposicion basuras label not mapped to a category",
				zap.String("value", opt.Value),
				zap.String("label", opt.Label))
			continue
		}
		flags.set(field)
	}

	if flags.hasDisposal() {
		flags.NoAplica = false
	}
	return flags
}

func (c *Categorizer) match(label string) (BasuraField, bool) {
	folded := foldLabel(label)
	if folded == "" {
		return "", false
	}
	for _, rule := range c.rules {
		for _, kw := range rule.Keywords {
			if strings.Contains(folded, kw) {
				return rule.Flag, true
			}
		}
	}
	return "", false
}

// foldLabel lower cases s and strips combining marks so "Recolección" and
// "recoleccion" compare equal.
func foldLabel(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.TrimSpace(out))
}

var defaultCategorizer = NewCategorizer()

// Categorize maps selections with the default keyword lists.
func Categorize(selectedIDs []string, options []CatalogOption) BasuraFlags {
	return defaultCategorizer.Categorize(selectedIDs, options)
}
