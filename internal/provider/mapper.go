package provider

import (
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/feverup/marketplace/internal/event"
)

// sellModeOnline is the only sell mode this system stores or returns.
const sellModeOnline = "online"

// Mapper turns the upstream catalog into domain events.
type Mapper struct {
	logger *zap.Logger
}

// NewMapper builds a Mapper.
func NewMapper(logger *zap.Logger) *Mapper {
	return &Mapper{logger: logger.Named("mapper")}
}

// MapOnlineEvents emits one Event per plan of every online base plan.
// Records with unparseable dates or failing validation are dropped with a
// warning; the batch never aborts.
func (m *Mapper) MapOnlineEvents(doc *planList) []event.Event {
	var events []event.Event
	for _, bp := range doc.Output.BasePlans {
		if bp.SellMode != sellModeOnline {
			continue
		}
		for _, p := range bp.Plans {
			e, ok := m.mapPlan(bp, p)
			if ok {
				events = append(events, e)
			}
		}
	}
	return events
}

func (m *Mapper) mapPlan(bp basePlan, p plan) (event.Event, bool) {
	starts, err := event.ParseCivil(p.StartDate)
	if err != nil {
		m.logger.Warn("dropping plan with unparseable start date",
			zap.String("title", bp.Title), zap.String("start", p.StartDate))
		return event.Event{}, false
	}
	ends, err := event.ParseCivil(p.EndDate)
	if err != nil {
		m.logger.Warn("dropping plan with unparseable end date",
			zap.String("title", bp.Title), zap.String("end", p.EndDate))
		return event.Event{}, false
	}

	minPrice, maxPrice := m.priceRange(bp.Title, p.Zones)

	e := event.Event{
		ID:       uuid.New(),
		Title:    bp.Title,
		StartsAt: starts,
		EndsAt:   ends,
		MinPrice: minPrice,
		MaxPrice: maxPrice,
	}
	if err := e.Validate(); err != nil {
		m.logger.Warn("dropping invalid plan", zap.Error(err))
		return event.Event{}, false
	}
	return e, true
}

// priceRange computes min/max over zones with capacity > 0, zero when no
// zone qualifies. Zones with malformed numbers are skipped individually.
func (m *Mapper) priceRange(title string, zones []zone) (decimal.Decimal, decimal.Decimal) {
	var minPrice, maxPrice decimal.Decimal
	found := false
	for _, z := range zones {
		capacity, err := strconv.Atoi(z.Capacity)
		if err != nil {
			m.logger.Warn("skipping zone with bad capacity",
				zap.String("title", title), zap.String("capacity", z.Capacity))
			continue
		}
		if capacity <= 0 {
			continue
		}
		price, err := decimal.NewFromString(z.Price)
		if err != nil {
			m.logger.Warn("skipping zone with bad price",
				zap.String("title", title), zap.String("price", z.Price))
			continue
		}
		if !found {
			minPrice, maxPrice = price, price
			found = true
			continue
		}
		if price.LessThan(minPrice) {
			minPrice = price
		}
		if price.GreaterThan(maxPrice) {
			maxPrice = price
		}
	}
	return minPrice, maxPrice
}
