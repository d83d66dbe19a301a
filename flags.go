package b2lambda

import (
	"strings"

	"github.com/rotisserie/eris"
)

// FeatureList is a repeatable flag holding an ordered list of distinct
// feature names. Each value may itself be a comma separated list. The first
// Set replaces any default list.
type FeatureList struct {
	Names   []string
	beenSet bool
}

func (f *FeatureList) Set(valueStr string) error {
	if !f.beenSet {
		f.beenSet = true
		f.Names = nil
	}

	for _, name := range strings.Split(valueStr, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		for _, have := range f.Names {
			if have == name {
				return eris.Errorf("duplicate feature %q", name)
			}
		}
		f.Names = append(f.Names, name)
	}
	return nil
}

func (f *FeatureList) String() string {
	return strings.Join(f.Names, ",")
}

func (f *FeatureList) Type() string {
	return "features"
}

// Changed reports whether the list was given on the command line.
func (f *FeatureList) Changed() bool {
	return f.beenSet
}
