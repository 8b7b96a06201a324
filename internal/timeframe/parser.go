package timeframe

import (
	"fmt"
	"time"
)

type ParserParams struct {
	FromDate string
	ToDate   string
	Days     int
}

// Parser turns user-supplied dates into daily frames anchored on the provider's clock.
type Parser struct {
	timeProvider TimeProvider
	loc          *time.Location
}

func NewParser(loc *time.Location, timeProvider ...TimeProvider) *Parser {
	var provider TimeProvider = &DefaultTimeProvider{}
	if len(timeProvider) > 0 && timeProvider[0] != nil {
		provider = timeProvider[0]
	}
	if loc == nil {
		loc = time.UTC
	}

	return &Parser{
		timeProvider: provider,
		loc:          loc,
	}
}

// Now returns the provider's current time in the parser's timezone.
func (p *Parser) Now() time.Time {
	return p.timeProvider.Now(p.loc)
}

// Location returns the timezone days are cut in.
func (p *Parser) Location() *time.Location {
	return p.loc
}

// ParseDate parses YYYY-MM-DD as local midnight.
func (p *Parser) ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DayFormat, s, p.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return t, nil
}

// Parse builds a frame from explicit dates, or from Days ending today when
// no dates are given. Defaults to the last 30 days.
func (p *Parser) Parse(params ParserParams) (*DailyFrame, error) {
	now := p.Now()

	if params.FromDate == "" && params.ToDate == "" {
		days := params.Days
		if days == 0 {
			days = 30
		}
		return LastDays(now, days, p.loc)
	}

	to := now
	if params.ToDate != "" {
		t, err := p.ParseDate(params.ToDate)
		if err != nil {
			return nil, fmt.Errorf("invalid 'to' date: %w", err)
		}
		to = t
	}

	from := DayStart(to, p.loc).AddDate(0, 0, -29)
	if params.FromDate != "" {
		f, err := p.ParseDate(params.FromDate)
		if err != nil {
			return nil, fmt.Errorf("invalid 'from' date: %w", err)
		}
		from = f
	}

	return NewDailyFrame(from, to, p.loc)
}
