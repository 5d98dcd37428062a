package categorize

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Vocabulary is the closed taxonomy categorisation prompts are built from.
// The built-in default covers common Instagram niches; deployments serving a
// different audience load their own from YAML.
type Vocabulary struct {
	Primaries        []string          `yaml:"primaries"`
	TertiaryBackfill map[string]string `yaml:"tertiary_backfill"`
}

var defaultVocabulary = &Vocabulary{
	Primaries: []string{
		"Business & Finance",
		"Health & Fitness",
		"Lifestyle",
		"Entertainment",
		"Education",
		"Technology",
		"Food & Cooking",
		"Travel",
		"Fashion & Beauty",
		"Sports",
		"Art & Design",
		"Music",
		"Parenting & Family",
		"Motivation & Mindset",
		"News & Politics",
	},
	// tertiary_backfill maps secondary categories with a well-known niche
	// onto a default tertiary when the model leaves it blank.
	TertiaryBackfill: map[string]string{
		"Personal Development": "Habits",
		"Entrepreneurship":     "Startups",
		"Investing":            "Stock Market",
		"Nutrition":            "Meal Planning",
		"Weight Training":      "Gym Workouts",
		"Mental Health":        "Anxiety",
		"Relationships":        "Dating",
		"Productivity":         "Time Management",
		"Comedy":               "Skits",
		"Recipes":              "Quick Meals",
	},
}

// DefaultVocabulary returns the built-in taxonomy.
func DefaultVocabulary() *Vocabulary {
	return defaultVocabulary
}

// LoadVocabulary reads a taxonomy from a YAML file. The YAML has a top-level
// "taxonomy" key. A file that lists no primary categories is an error; a
// missing tertiary_backfill table falls back to the built-in one.
func LoadVocabulary(path string) (*Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "categorize: read taxonomy %s", path)
	}

	var wrapper struct {
		Taxonomy Vocabulary `yaml:"taxonomy"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "categorize: parse taxonomy")
	}

	v := &wrapper.Taxonomy
	if len(v.Primaries) == 0 {
		return nil, eris.Errorf("categorize: taxonomy %s lists no primary categories", path)
	}
	if v.TertiaryBackfill == nil {
		v.TertiaryBackfill = defaultVocabulary.TertiaryBackfill
	}
	return v, nil
}
