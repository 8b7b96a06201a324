package analytics

import (
	"context"
	"fmt"

	"leadflow/internal/apperr"
	"leadflow/internal/events"
	"leadflow/internal/timeframe"
)

// TimeSeries is a daily event count with exactly one point per day.
type TimeSeries struct {
	From   string               `json:"from"`
	To     string               `json:"to"`
	Type   events.EventType     `json:"type,omitempty"`
	Points []timeframe.DateStat `json:"points"`
	Total  int                  `json:"total"`
	Trend  float64              `json:"trend"`
}

// GetTimeSeries counts events per day over the last `days` days. An empty
// typeFilter counts every type. Days without events appear with a zero count,
// so len(Points) == days.
func (s *Service) GetTimeSeries(ctx context.Context, days int, typeFilter events.EventType) (*TimeSeries, error) {
	frame, err := s.Frame(days)
	if err != nil {
		return nil, err
	}
	return s.timeSeries(ctx, frame, typeFilter)
}

func (s *Service) timeSeries(ctx context.Context, frame *timeframe.DailyFrame, typeFilter events.EventType) (*TimeSeries, error) {
	var types []events.EventType
	if typeFilter != "" {
		if !typeFilter.Valid() {
			return nil, apperr.NewValidationError("type", fmt.Sprintf("unknown event type %q", typeFilter))
		}
		types = []events.EventType{typeFilter}
	}

	from, to := frame.Bounds()
	counts, err := events.CountByDayAndType(ctx, s.dbManager.GetConnection(), from, to, frame.Tz, types)
	if err != nil {
		return nil, err
	}

	grouped := make([]timeframe.DateStat, 0, len(counts))
	for day, byType := range counts {
		n := 0
		for _, c := range byType {
			n += c
		}
		grouped = append(grouped, timeframe.DateStat{Date: day, Count: n})
	}

	points := frame.BuildTimeSeriesPoints(grouped)
	total := 0
	for _, p := range points {
		total += p.Count
	}
	return &TimeSeries{
		From:   frame.Key(frame.From),
		To:     frame.Key(frame.To),
		Type:   typeFilter,
		Points: points,
		Total:  total,
		Trend:  timeframe.CalculateTrend(points),
	}, nil
}
