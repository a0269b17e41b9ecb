// Package ingest turns fetched profiles into deduplicated candidate records.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spigell/talent-sourcer/internal/models"
	"github.com/spigell/talent-sourcer/internal/provider"
	"github.com/spigell/talent-sourcer/internal/store"
)

const (
	MatchedByEmail       = "email"
	MatchedByPhone       = "phone"
	MatchedByNameCompany = "name_company"
)

type Outcome struct {
	Candidate *models.Candidate
	Duplicate bool
	MatchedBy string
}

type Ingester struct {
	store  store.CandidateStore
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

func New(candidates store.CandidateStore, logger *zap.Logger) *Ingester {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingester{
		store:  candidates,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Ingest returns the existing candidate when any dedup key matches, otherwise
// creates one tagged with runID.
func (i *Ingester) Ingest(ctx context.Context, profile *provider.Profile, reference, runID string) (Outcome, error) {
	if profile == nil {
		return Outcome{}, errors.New("empty profile")
	}

	candidate := i.extract(profile, reference, runID)
	keys := Keys(candidate)

	if out, ok, err := i.lookup(ctx, keys); err != nil || ok {
		return out, err
	}

	err := i.store.CreateCandidate(ctx, candidate, keys)
	switch {
	case err == nil:
		i.logger.Debug("candidate created", zap.String("candidate_id", candidate.ID), zap.String("reference", reference))
		return Outcome{Candidate: candidate}, nil
	case errors.Is(err, store.ErrConflict):
		// Someone created the same person between the lookup and the insert.
		out, ok, lookupErr := i.lookup(ctx, keys)
		if lookupErr != nil {
			return Outcome{}, lookupErr
		}
		if ok {
			return out, nil
		}
		return Outcome{}, fmt.Errorf("create candidate: %w", err)
	default:
		return Outcome{}, fmt.Errorf("create candidate: %w", err)
	}
}

func (i *Ingester) lookup(ctx context.Context, keys store.CandidateQuery) (Outcome, bool, error) {
	checks := []struct {
		key   string
		by    string
		match func(context.Context, string) (*models.Candidate, error)
	}{
		{keys.Email, MatchedByEmail, i.store.FindByEmail},
		{keys.Phone, MatchedByPhone, i.store.FindByPhone},
		{keys.NameCompanyKey, MatchedByNameCompany, i.store.FindByNameCompany},
	}

	for _, c := range checks {
		if c.key == "" {
			continue
		}
		existing, err := c.match(ctx, c.key)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return Outcome{}, false, fmt.Errorf("lookup candidate by %s: %w", c.by, err)
		}
		return Outcome{Candidate: existing, Duplicate: true, MatchedBy: c.by}, true, nil
	}

	return Outcome{}, false, nil
}

func (i *Ingester) extract(p *provider.Profile, reference, runID string) *models.Candidate {
	var missing []string
	orUnknown := func(field, v string) string {
		v = strings.TrimSpace(v)
		if v == "" {
			missing = append(missing, field)
			return models.Unknown
		}
		return v
	}

	first, last := strings.TrimSpace(p.FirstName), strings.TrimSpace(p.LastName)
	full := strings.TrimSpace(p.Name)
	if full == "" {
		full = strings.TrimSpace(first + " " + last)
	}
	if first == "" && last == "" && full != "" {
		first, last = splitName(full)
	}

	company := firstNonEmpty(p.CurrentCompany.Name, p.CurrentCompanyName)
	title := p.CurrentCompany.Title
	if len(p.Experience) > 0 {
		company = firstNonEmpty(company, p.Experience[0].Company)
		title = firstNonEmpty(title, p.Experience[0].Title)
	}
	title = firstNonEmpty(title, p.Position)

	location := firstNonEmpty(p.Location, p.City)

	email := NormalizeEmail(p.Email)
	if p.Email != "" && email == "" {
		i.logger.Warn("dropping malformed email", zap.String("reference", reference))
	}
	phone := NormalizePhone(p.Phone)
	if p.Phone != "" && phone == "" {
		i.logger.Warn("dropping malformed phone", zap.String("reference", reference))
	}

	c := &models.Candidate{
		ID:              i.newID(),
		FullName:        orUnknown("full_name", full),
		FirstName:       orUnknown("first_name", first),
		LastName:        orUnknown("last_name", last),
		Headline:        orUnknown("headline", p.Position),
		Title:           orUnknown("title", title),
		Company:         orUnknown("company", company),
		Location:        orUnknown("location", location),
		Email:           email,
		Phone:           phone,
		SourceURL:       firstNonEmpty(p.URL, p.InputURL, reference),
		Skills:          p.SkillNames(),
		ExperienceYears: experienceYears(p.Experience, i.now()),
		Summary:         orUnknown("summary", p.About),
		Source:          models.SourceExternal,
		SourcingRunID:   runID,
		CreatedAt:       i.now().UTC(),
	}

	if len(missing) > 0 {
		i.logger.Info("profile fields missing", zap.String("reference", reference), zap.Strings("fields", missing))
	}

	return c
}

func splitName(full string) (string, string) {
	parts := strings.Fields(full)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

var yearPattern = regexp.MustCompile(`\b(19|20)\d{2}\b`)

// experienceYears spans from the earliest start year to the latest end year.
// Open-ended positions end now.
func experienceYears(items []provider.Experience, now time.Time) float64 {
	earliest, latest := 0, 0
	for _, e := range items {
		start := parseYear(e.StartDate)
		if start == 0 {
			continue
		}
		end := parseYear(e.EndDate)
		if end == 0 {
			end = now.Year()
		}
		if earliest == 0 || start < earliest {
			earliest = start
		}
		if end > latest {
			latest = end
		}
	}
	if earliest == 0 || latest < earliest {
		return 0
	}
	return float64(latest - earliest)
}

func parseYear(s string) int {
	m := yearPattern.FindString(s)
	if m == "" {
		return 0
	}
	y, err := strconv.Atoi(m)
	if err != nil {
		return 0
	}
	return y
}
