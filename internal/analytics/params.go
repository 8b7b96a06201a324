package analytics

import (
	"fmt"

	"leadflow/internal/apperr"
	"leadflow/internal/timeframe"
)

// MaxDays bounds every day-count parameter.
const MaxDays = 366

// Frame returns the frame of the last `days` calendar days, today included.
func (s *Service) Frame(days int) (*timeframe.DailyFrame, error) {
	if days < 1 || days > MaxDays {
		return nil, apperr.NewValidationError("days", fmt.Sprintf("must be between 1 and %d", MaxDays))
	}
	return s.parser.Parse(timeframe.ParserParams{Days: days})
}

// FrameBetween returns the frame spanning explicit YYYY-MM-DD dates.
func (s *Service) FrameBetween(from, to string) (*timeframe.DailyFrame, error) {
	frame, err := s.parser.Parse(timeframe.ParserParams{FromDate: from, ToDate: to})
	if err != nil {
		return nil, apperr.NewValidationError("range", err.Error())
	}
	if frame.Len() > MaxDays {
		return nil, apperr.NewValidationError("range", fmt.Sprintf("must span at most %d days", MaxDays))
	}
	return frame, nil
}
