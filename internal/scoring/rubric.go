package scoring

import (
	"math"
	"strings"
	"unicode"

	"github.com/spigell/talent-sourcer/internal/models"
)

const (
	titlePoints      = 3.0
	skillPoints      = 4.0
	experiencePoints = 2.0
	locationPoints   = 1.0
)

var titleStopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "the": {}, "of": {}, "for": {}, "at": {}, "in": {}, "to": {}, "with": {},
}

// Breakdown is the per-criterion part of a rubric score.
type Breakdown struct {
	Title      float64 `json:"title"`
	Skills     float64 `json:"skills"`
	Experience float64 `json:"experience"`
	Location   float64 `json:"location"`
}

func (b Breakdown) Total() float64 {
	return b.Title + b.Skills + b.Experience + b.Location
}

// Rubric scores the candidate on a 0..10 scale. It is only computable when the
// job lists at least one weighted skill.
func Rubric(c *models.Candidate, job *models.Job) (Breakdown, bool) {
	if c == nil || job == nil || len(job.Skills) == 0 {
		return Breakdown{}, false
	}

	return Breakdown{
		Title:      titleScore(c, job),
		Skills:     skillScore(c, job),
		Experience: experienceScore(c, job),
		Location:   locationScore(c, job),
	}, true
}

func titleScore(c *models.Candidate, job *models.Job) float64 {
	want := tokens(job.Title)
	if len(want) == 0 {
		return 0
	}

	have := map[string]struct{}{}
	for _, field := range []string{c.Title, c.Headline} {
		if !models.Known(field) {
			continue
		}
		for t := range tokens(field) {
			have[t] = struct{}{}
		}
	}

	matched := 0
	for t := range want {
		if _, ok := have[t]; ok {
			matched++
		}
	}
	return titlePoints * float64(matched) / float64(len(want))
}

func skillScore(c *models.Candidate, job *models.Job) float64 {
	have := make([]string, 0, len(c.Skills))
	for _, s := range c.Skills {
		if s = normalize(s); s != "" {
			have = append(have, s)
		}
	}

	var total, covered float64
	for _, s := range job.Skills {
		name := normalize(s.Name)
		if name == "" {
			continue
		}
		weight := s.Weight
		if weight <= 0 {
			weight = 1
		}
		total += weight
		if hasSkill(have, name) {
			covered += weight
		}
	}
	if total == 0 {
		return 0
	}
	return skillPoints * covered / total
}

func hasSkill(have []string, want string) bool {
	for _, h := range have {
		if h == want || containsWord(h, want) || containsWord(want, h) {
			return true
		}
	}
	return false
}

func containsWord(s, word string) bool {
	for _, f := range strings.Fields(s) {
		if f == word {
			return true
		}
	}
	return false
}

func experienceScore(c *models.Candidate, job *models.Job) float64 {
	if job.ExperienceYears <= 0 || c.ExperienceYears <= 0 {
		return 0
	}
	if c.ExperienceYears >= job.ExperienceYears {
		return experiencePoints
	}
	return experiencePoints * c.ExperienceYears / job.ExperienceYears
}

func locationScore(c *models.Candidate, job *models.Job) float64 {
	if !models.Known(job.Location) || !models.Known(c.Location) {
		return 0
	}
	want, have := normalize(job.Location), normalize(c.Location)
	if want == "" || have == "" {
		return 0
	}
	if strings.Contains(want, "remote") || strings.Contains(have, want) || strings.Contains(want, have) {
		return locationPoints
	}
	// "Berlin, Germany" against "Germany".
	for t := range tokens(job.Location) {
		if containsWord(have, t) {
			return locationPoints
		}
	}
	return 0
}

func normalize(s string) string {
	return strings.Join(strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '+' && r != '#'
	}), " ")
}

func tokens(s string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, f := range strings.Fields(normalize(s)) {
		if _, stop := titleStopwords[f]; stop {
			continue
		}
		out[f] = struct{}{}
	}
	return out
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
