package schedule

import "strings"

// DefaultColor is used for event types without a dedicated color.
const DefaultColor = "#6B7280"

var eventColors = map[string]string{
	"class":      "#3B82F6",
	"lecture":    "#3B82F6",
	"lab":        "#6366F1",
	"exam":       "#EF4444",
	"study":      "#10B981",
	"assignment": "#F59E0B",
	"deadline":   "#F97316",
	"club":       "#8B5CF6",
	"social":     "#EC4899",
	"sport":      "#14B8A6",
	"work":       "#0EA5E9",
	"meeting":    "#A855F7",
	"personal":   "#84CC16",
}

// EventColor returns the calendar color for an event type. Matching ignores case and
// surrounding whitespace.
func EventColor(eventType string) string {
	if c, ok := eventColors[strings.ToLower(strings.TrimSpace(eventType))]; ok {
		return c
	}
	return DefaultColor
}

// Colorize fills in the color of every scheduled event that has none.
func (d *Document) Colorize() {
	for i := range d.OptimizedSchedule {
		if d.OptimizedSchedule[i].Color == "" {
			d.OptimizedSchedule[i].Color = EventColor(d.OptimizedSchedule[i].Type)
		}
	}
}
