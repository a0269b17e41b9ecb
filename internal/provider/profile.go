package provider

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
)

type Company struct {
	Name  string `mapstructure:"name"`
	Title string `mapstructure:"title"`
}

type Experience struct {
	Title     string `mapstructure:"title"`
	Company   string `mapstructure:"company"`
	StartDate string `mapstructure:"start_date"`
	EndDate   string `mapstructure:"end_date"`
	Duration  string `mapstructure:"duration"`
}

// Profile is a scraped profile record. Every field may be missing.
type Profile struct {
	ID                 string       `mapstructure:"id"`
	Name               string       `mapstructure:"name"`
	FirstName          string       `mapstructure:"first_name"`
	LastName           string       `mapstructure:"last_name"`
	Position           string       `mapstructure:"position"`
	City               string       `mapstructure:"city"`
	Location           string       `mapstructure:"location"`
	CountryCode        string       `mapstructure:"country_code"`
	About              string       `mapstructure:"about"`
	CurrentCompany     Company      `mapstructure:"current_company"`
	CurrentCompanyName string       `mapstructure:"current_company_name"`
	Experience         []Experience `mapstructure:"experience"`
	Skills             []any        `mapstructure:"skills"`
	Email              string       `mapstructure:"email"`
	Phone              string       `mapstructure:"phone"`
	URL                string       `mapstructure:"url"`
	InputURL           string       `mapstructure:"input_url"`

	// Raw keeps the record exactly as the provider returned it.
	Raw map[string]any `mapstructure:"-"`
}

// DecodeProfile converts a loose provider record into a Profile. It always
// returns a profile; the error lists fields that had to be dropped.
func DecodeProfile(record map[string]any) (*Profile, error) {
	profile := &Profile{Raw: record}
	if record == nil {
		return profile, fmt.Errorf("%w: empty record", ErrMalformedResponse)
	}

	input := make(map[string]any, len(record))
	for k, v := range record {
		input[k] = v
	}
	// Some datasets flatten the current company into a string.
	if name, ok := input["current_company"].(string); ok {
		input["current_company"] = map[string]any{"name": name}
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           profile,
	})
	if err != nil {
		return profile, err
	}

	if err := decoder.Decode(input); err != nil {
		profile.Raw = record
		return profile, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	profile.Raw = record

	return profile, nil
}

// SkillNames flattens the skills list, which arrives as strings or as objects with a name.
func (p *Profile) SkillNames() []string {
	names := make([]string, 0, len(p.Skills))
	seen := make(map[string]struct{}, len(p.Skills))
	for _, item := range p.Skills {
		var name string
		switch v := item.(type) {
		case string:
			name = v
		case map[string]any:
			name = stringValue(v["name"])
			if name == "" {
				name = stringValue(v["title"])
			}
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		names = append(names, name)
	}
	return names
}

// recordError extracts the per-record failure some datasets embed instead of data.
func recordError(record map[string]any) error {
	code := stringValue(record["error_code"])
	msg := stringValue(record["error"])
	if code == "" && msg == "" {
		return nil
	}
	return classifyMessage(code, msg)
}
