// Package matcher resolves scraped tag, performer and studio names against host entities
// with a normalized edit-distance score.
package matcher

import (
	"context"
	"math"
	"sort"
	"strings"
	"unicode"

	"go-stash-downloader/index"
	"go-stash-downloader/internal/models"

	"github.com/agnivade/levenshtein"
	log "github.com/sirupsen/logrus"
)

// DefaultThreshold is the auto-match score when none is configured.
const DefaultThreshold = 95

// MinCandidateScore drops candidates too dissimilar to be worth showing.
const MinCandidateScore = 50

// Normalize lowercases name and folds separators so "Jane_Doe" and "jane doe" compare equal.
func Normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.Map(func(r rune) rune {
		switch {
		case r == '_' || r == '-' || r == '.':
			return ' '
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, name)
	return strings.Join(strings.Fields(name), " ")
}

// Similarity scores two names from 0 (nothing in common) to 100 (equal after Normalize).
func Similarity(a, b string) int {
	na, nb := Normalize(a), Normalize(b)
	if na == nb {
		return 100
	}
	longest := max(len([]rune(na)), len([]rune(nb)))
	if longest == 0 {
		return 0
	}
	d := levenshtein.ComputeDistance(na, nb)
	return int(math.Round((1 - float64(d)/float64(longest)) * 100))
}

// Score is the best similarity between name and the entity's name or aliases.
func Score(name string, e models.Entity) int {
	best := Similarity(name, e.Name)
	for _, alias := range e.Aliases {
		if s := Similarity(name, alias); s > best {
			best = s
		}
	}
	return best
}

// Match ranks candidates for local, best first. The top candidate is selected when its
// score reaches threshold.
func Match(local models.Entity, candidates []models.Entity, threshold int) models.EntityMatch {
	m := models.EntityMatch{Local: local, Status: models.MatchUnmatched}
	for _, c := range candidates {
		if c.Kind != "" && local.Kind != "" && c.Kind != local.Kind {
			continue
		}
		score := Score(local.Name, c)
		if score < MinCandidateScore {
			continue
		}
		m.Candidates = append(m.Candidates, models.MatchCandidate{
			Entity:     c,
			Score:      score,
			Confidence: models.ConfidenceFor(score),
		})
	}
	sort.SliceStable(m.Candidates, func(i, j int) bool {
		return m.Candidates[i].Score > m.Candidates[j].Score
	})
	if len(m.Candidates) > 0 && models.AutoMatchEligible(m.Candidates[0].Score, threshold) {
		top := m.Candidates[0]
		m.Selected = &top
		m.Status = models.MatchMatched
	}
	return m
}

// Select marks candidate i as the chosen match.
func Select(m models.EntityMatch, i int) models.EntityMatch {
	if i < 0 || i >= len(m.Candidates) {
		return m
	}
	c := m.Candidates[i]
	m.Selected = &c
	m.Status = models.MatchMatched
	return m
}

// Skip marks the match as deliberately left unresolved.
func Skip(m models.EntityMatch) models.EntityMatch {
	m.Selected = nil
	m.Status = models.MatchSkipped
	return m
}

// Source looks up host entities by name.
type Source interface {
	FindEntities(ctx context.Context, kind models.EntityKind, q string, perPage int) ([]models.Entity, error)
}

// Matcher looks names up on the host, caches the results in an entity index and ranks them.
type Matcher struct {
	source    Source
	index     *index.EntityIndex
	threshold int
	perPage   int
}

func New(source Source, idx *index.EntityIndex, threshold int) *Matcher {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Matcher{source: source, index: idx, threshold: threshold, perPage: 25}
}

// Resolve matches each name of the given kind. Lookup failures leave that name unmatched.
func (m *Matcher) Resolve(ctx context.Context, kind models.EntityKind, names []string) []models.EntityMatch {
	out := make([]models.EntityMatch, 0, len(names))
	for _, name := range names {
		local := models.Entity{Kind: kind, Name: name}
		remote, err := m.source.FindEntities(ctx, kind, name, m.perPage)
		if err != nil {
			log.WithError(err).WithField("name", name).Warnf("Failed to look up %s", kind)
			out = append(out, models.EntityMatch{Local: local, Status: models.MatchUnmatched})
			continue
		}
		if err := m.index.Add(remote...); err != nil {
			log.WithError(err).Debug("Failed to index host entities")
		}
		candidates, err := m.index.Candidates(kind, Normalize(name), 10)
		if err != nil {
			log.WithError(err).Debug("Entity index search failed, using host results")
		}
		if len(candidates) == 0 {
			candidates = remote
		}
		out = append(out, Match(local, candidates, m.threshold))
	}
	return out
}

// Result holds matches for every entity kind of one metadata record.
type Result struct {
	Tags       []models.EntityMatch `json:"tags"`
	Performers []models.EntityMatch `json:"performers"`
	Studio     *models.EntityMatch  `json:"studio,omitempty"`
}

// MatchMetadata resolves the tags, performers and studio of md.
func (m *Matcher) MatchMetadata(ctx context.Context, md *models.ScrapedMetadata) Result {
	var r Result
	if md == nil {
		return r
	}
	r.Tags = m.Resolve(ctx, models.EntityTag, md.Tags)
	r.Performers = m.Resolve(ctx, models.EntityPerformer, md.Performers)
	if md.Studio != "" {
		if s := m.Resolve(ctx, models.EntityStudio, []string{md.Studio}); len(s) == 1 {
			r.Studio = &s[0]
		}
	}
	return r
}
