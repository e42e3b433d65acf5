package crawler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Granularity describes how a source's archive is walked.
type Granularity string

// Supported archive granularities.
const (
	// GranularityDay walks one archive listing per calendar day.
	GranularityDay Granularity = "day"
	// GranularityMonthPage walks numbered listing pages inside each month.
	GranularityMonthPage Granularity = "month_page"
)

// DefaultPagesPerMonth bounds month_page walks when no explicit value is set.
const DefaultPagesPerMonth = 49

const unitDateLayout = "2006-01-02"

// WorkUnit is the smallest independently completable slice of a crawl.
// Page is zero for day-granular sources.
type WorkUnit struct {
	Date time.Time
	Page int
}

// NewDayUnit returns the unit for the calendar day containing t.
func NewDayUnit(t time.Time) WorkUnit {
	return WorkUnit{Date: truncateDay(t)}
}

// NewPageUnit returns the unit for a listing page inside a month.
func NewPageUnit(year int, month time.Month, page int) WorkUnit {
	return WorkUnit{Date: time.Date(year, month, 1, 0, 0, 0, 0, time.UTC), Page: page}
}

// IsZero reports whether the unit is unset.
func (u WorkUnit) IsZero() bool {
	return u.Date.IsZero() && u.Page == 0
}

// Compare orders units by date then page.
func (u WorkUnit) Compare(other WorkUnit) int {
	if c := u.Date.Compare(other.Date); c != 0 {
		return c
	}
	switch {
	case u.Page < other.Page:
		return -1
	case u.Page > other.Page:
		return 1
	default:
		return 0
	}
}

// Before reports whether u sorts strictly before other.
func (u WorkUnit) Before(other WorkUnit) bool {
	return u.Compare(other) < 0
}

// Equal reports whether both units address the same slice.
func (u WorkUnit) Equal(other WorkUnit) bool {
	return u.Compare(other) == 0
}

// Key is the persisted form of the unit: "2006-01-02" or "2006-01-01#3".
func (u WorkUnit) Key() string {
	day := u.Date.Format(unitDateLayout)
	if u.Page > 0 {
		return day + "#" + strconv.Itoa(u.Page)
	}
	return day
}

func (u WorkUnit) String() string {
	return u.Key()
}

// ParseWorkUnit parses the output of WorkUnit.Key. The legacy comma form is
// read without knowing the source, see ParseWorkUnitFor.
func ParseWorkUnit(raw string) (WorkUnit, error) {
	return ParseWorkUnitFor(raw, "")
}

// ParseWorkUnitFor parses raw for a source walked at granularity g. The
// legacy comma form "2015,1,5" is page 5 of January 2015 for month_page
// sources and 5 January 2015 for day sources. With no granularity a third
// field above 31 is read as a page and anything else as a day.
func ParseWorkUnitFor(raw string, g Granularity) (WorkUnit, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return WorkUnit{}, fmt.Errorf("empty work unit")
	}
	if strings.Count(raw, ",") == 2 {
		return parseLegacyUnit(raw, g)
	}
	datePart, pagePart, hasPage := strings.Cut(raw, "#")
	day, err := time.Parse(unitDateLayout, datePart)
	if err != nil {
		return WorkUnit{}, fmt.Errorf("parse work unit %q: %w", raw, err)
	}
	unit := WorkUnit{Date: day.UTC()}
	if hasPage {
		page, err := strconv.Atoi(pagePart)
		if err != nil || page < 1 {
			return WorkUnit{}, fmt.Errorf("parse work unit %q: invalid page", raw)
		}
		unit.Page = page
	}
	return unit, nil
}

func parseLegacyUnit(raw string, g Granularity) (WorkUnit, error) {
	parts := strings.Split(raw, ",")
	nums := make([]int, len(parts))
	for i, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return WorkUnit{}, fmt.Errorf("parse work unit %q: %w", raw, err)
		}
		nums[i] = n
	}
	year, month, last := nums[0], nums[1], nums[2]
	if month < 1 || month > 12 || last < 1 {
		return WorkUnit{}, fmt.Errorf("parse work unit %q: out of range", raw)
	}
	if g == GranularityMonthPage || (g == "" && last > 31) {
		return NewPageUnit(year, time.Month(month), last), nil
	}
	day := time.Date(year, time.Month(month), last, 0, 0, 0, 0, time.UTC)
	if day.Month() != time.Month(month) {
		return WorkUnit{}, fmt.Errorf("parse work unit %q: invalid day", raw)
	}
	return WorkUnit{Date: day}, nil
}

// Range is the ordered set of units a crawl covers, both ends inclusive.
type Range struct {
	Start         time.Time
	End           time.Time
	Granularity   Granularity
	PagesPerMonth int
}

// Validate checks the range is walkable.
func (r Range) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return fmt.Errorf("range start and end are required")
	}
	if truncateDay(r.End).Before(truncateDay(r.Start)) {
		return fmt.Errorf("range end %s is before start %s",
			r.End.Format(unitDateLayout), r.Start.Format(unitDateLayout))
	}
	switch r.Granularity {
	case GranularityDay, GranularityMonthPage:
	default:
		return fmt.Errorf("unknown granularity %q", r.Granularity)
	}
	return nil
}

// First returns the earliest unit of the range.
func (r Range) First() WorkUnit {
	if r.Granularity == GranularityMonthPage {
		start := truncateDay(r.Start)
		return NewPageUnit(start.Year(), start.Month(), 1)
	}
	return NewDayUnit(r.Start)
}

// Last returns the final unit of the range.
func (r Range) Last() WorkUnit {
	if r.Granularity == GranularityMonthPage {
		end := truncateDay(r.End)
		return NewPageUnit(end.Year(), end.Month(), r.pages())
	}
	return NewDayUnit(r.End)
}

// Next returns the unit following u, or false when u is the last unit.
func (r Range) Next(u WorkUnit) (WorkUnit, bool) {
	var next WorkUnit
	if r.Granularity == GranularityMonthPage {
		if u.Page < r.pages() {
			next = WorkUnit{Date: u.Date, Page: u.Page + 1}
		} else {
			next = WorkUnit{Date: u.Date.AddDate(0, 1, 0), Page: 1}
		}
	} else {
		next = WorkUnit{Date: u.Date.AddDate(0, 0, 1)}
	}
	if r.Last().Before(next) {
		return WorkUnit{}, false
	}
	return next, true
}

// Contains reports whether u is a unit of the range.
func (r Range) Contains(u WorkUnit) bool {
	if u.Before(r.First()) || r.Last().Before(u) {
		return false
	}
	if r.Granularity == GranularityMonthPage {
		return u.Page >= 1 && u.Page <= r.pages() && u.Date.Day() == 1
	}
	return u.Page == 0
}

// Len counts the units of the range.
func (r Range) Len() int {
	first, last := r.First(), r.Last()
	if r.Granularity == GranularityMonthPage {
		months := (last.Date.Year()-first.Date.Year())*12 + int(last.Date.Month()) - int(first.Date.Month()) + 1
		return months * r.pages()
	}
	return int(last.Date.Sub(first.Date).Hours()/24) + 1
}

func (r Range) pages() int {
	if r.PagesPerMonth > 0 {
		return r.PagesPerMonth
	}
	return DefaultPagesPerMonth
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// CandidateLink is an absolute article URL that passed listing filters.
type CandidateLink struct {
	URL  string
	Unit WorkUnit
}

// Item is one extracted article.
type Item struct {
	Source        string
	Title         string
	PublishedDate string
	Description   string
	Body          string
	URL           string `json:"-"`
}

// Record returns the persisted column order.
func (i Item) Record() []string {
	return []string{i.Source, i.Title, i.PublishedDate, i.Description, i.Body}
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Unit    WorkUnit
	Headers http.Header
	Cookies []*http.Cookie
}

// Page is a fetched document.
type Page struct {
	URL          string
	FinalURL     string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// Identity is the network-visible fingerprint used for requests.
type Identity struct {
	Proxy     string
	UserAgent string
}
