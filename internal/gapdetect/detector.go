package gapdetect

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"stacks/internal/catalog"
	"stacks/internal/logging"
	"stacks/internal/queue"
	"stacks/internal/textutil"
)

// Candidate is one missing work the detector proposes for acquisition.
type Candidate struct {
	DedupKey string
	Title    string
	Author   string
	Series   string
	Sequence int
	Reason   queue.Reason
}

// OwnedWork is one work from the current library snapshot.
type OwnedWork struct {
	Title    string
	Author   string
	Series   string
	Sequence int
}

// seriesRef pairs a series name with a representative author for catalog
// lookups.
type seriesRef struct {
	name   string
	author string
}

// Library is an immutable, normalized index over a library snapshot.
// Ownership checks fold case, punctuation, and diacritics so a catalog
// spelling variant of an owned work is never re-emitted.
type Library struct {
	owned   map[string]struct{}
	series  []seriesRef
	authors []string
}

// NewLibrary builds the normalized ownership index from a snapshot.
func NewLibrary(works []OwnedWork) *Library {
	lib := &Library{owned: make(map[string]struct{}, len(works))}

	seenSeries := make(map[string]struct{})
	seenAuthors := make(map[string]struct{})
	for _, work := range works {
		lib.owned[textutil.DedupKey(work.Title, work.Author)] = struct{}{}

		if series := strings.TrimSpace(work.Series); series != "" {
			key := textutil.Normalize(series)
			if _, ok := seenSeries[key]; !ok {
				seenSeries[key] = struct{}{}
				lib.series = append(lib.series, seriesRef{name: series, author: work.Author})
			}
		}
		if author := strings.TrimSpace(work.Author); author != "" {
			key := textutil.Normalize(author)
			if _, ok := seenAuthors[key]; !ok {
				seenAuthors[key] = struct{}{}
				lib.authors = append(lib.authors, author)
			}
		}
	}

	sort.Slice(lib.series, func(i, j int) bool { return lib.series[i].name < lib.series[j].name })
	sort.Strings(lib.authors)
	return lib
}

// Owns reports whether the snapshot contains the given work.
func (l *Library) Owns(title, author string) bool {
	_, ok := l.owned[textutil.DedupKey(title, author)]
	return ok
}

// Size returns the number of distinct owned works.
func (l *Library) Size() int {
	return len(l.owned)
}

// Detector emits acquisition candidates by diffing the reference catalog
// against a library snapshot. Stateless per call.
type Detector struct {
	lookup catalog.Lookup
	logger *slog.Logger
}

// New creates a gap detector backed by the given catalog lookup.
func New(lookup catalog.Lookup, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Detector{
		lookup: lookup,
		logger: logging.NewComponentLogger(logger, "gapdetect"),
	}
}

// Detect runs the series pass then the author pass over the snapshot and
// returns deduplicated candidates. A lookup failure for one series or author
// is logged and skipped; it never aborts the remaining sources.
func (d *Detector) Detect(ctx context.Context, lib *Library) []Candidate {
	seen := make(map[string]struct{})
	candidates := d.seriesGaps(ctx, lib, seen)
	candidates = append(candidates, d.authorGaps(ctx, lib, seen)...)
	return candidates
}

// SeriesGaps returns candidates missing from series the library already holds
// at least one work of.
func (d *Detector) SeriesGaps(ctx context.Context, lib *Library) []Candidate {
	return d.seriesGaps(ctx, lib, make(map[string]struct{}))
}

// AuthorGaps returns candidates missing from the backlists of owned authors.
func (d *Detector) AuthorGaps(ctx context.Context, lib *Library) []Candidate {
	return d.authorGaps(ctx, lib, make(map[string]struct{}))
}

func (d *Detector) seriesGaps(ctx context.Context, lib *Library, seen map[string]struct{}) []Candidate {
	var candidates []Candidate
	for _, ref := range lib.series {
		works, err := d.lookup.SeriesWorks(ctx, ref.name, ref.author)
		if err != nil {
			d.logger.Warn("series lookup failed, skipping source",
				logging.String("series", ref.name),
				logging.Error(err))
			continue
		}
		candidates = append(candidates, d.collect(lib, seen, works, ref.name, queue.ReasonSeriesGap)...)
	}
	return candidates
}

func (d *Detector) authorGaps(ctx context.Context, lib *Library, seen map[string]struct{}) []Candidate {
	var candidates []Candidate
	for _, author := range lib.authors {
		works, err := d.lookup.AuthorWorks(ctx, author)
		if err != nil {
			d.logger.Warn("author lookup failed, skipping source",
				logging.String("author", author),
				logging.Error(err))
			continue
		}
		candidates = append(candidates, d.collect(lib, seen, works, "", queue.ReasonAuthorGap)...)
	}
	return candidates
}

func (d *Detector) collect(lib *Library, seen map[string]struct{}, works []catalog.Work, series string, reason queue.Reason) []Candidate {
	var out []Candidate
	for _, work := range works {
		if strings.TrimSpace(work.Title) == "" {
			continue
		}
		key := textutil.DedupKey(work.Title, work.Author)
		if _, ok := lib.owned[key]; ok {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		candidateSeries := work.Series
		if candidateSeries == "" {
			candidateSeries = series
		}
		out = append(out, Candidate{
			DedupKey: key,
			Title:    work.Title,
			Author:   work.Author,
			Series:   candidateSeries,
			Sequence: work.Sequence,
			Reason:   reason,
		})
	}
	return out
}
