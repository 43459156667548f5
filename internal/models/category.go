package models

// DiagramCategory is one entry of the fixed diagram-type vocabulary shared by the
// category picker and the model's type suggestions.
type DiagramCategory struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

const DefaultCategoryID = "flowchart"

var categories = []DiagramCategory{
	{ID: "flowchart", Label: "Flowchart"},
	{ID: "classDiagram", Label: "UML Class Diagram"},
	{ID: "sequenceDiagram", Label: "UML Sequence Diagram"},
	{ID: "stateDiagram", Label: "UML State Diagram"},
	{ID: "erDiagram", Label: "ER Diagram"},
	{ID: "gantt", Label: "Gantt Chart"},
	{ID: "mindmap", Label: "Mind Map"},
	{ID: "timeline", Label: "Timeline"},
	{ID: "networkDiagram", Label: "Network Diagram"},
}

// Categories returns a copy of the category vocabulary in display order.
func Categories() []DiagramCategory {
	out := make([]DiagramCategory, len(categories))
	copy(out, categories)
	return out
}

// LookupCategory finds a category by identifier.
func LookupCategory(id string) (DiagramCategory, bool) {
	for _, c := range categories {
		if c.ID == id {
			return c, true
		}
	}
	return DiagramCategory{}, false
}

// CategoryLabel returns the display label for id, or "diagram" for unknown ids.
func CategoryLabel(id string) string {
	if c, ok := LookupCategory(id); ok {
		return c.Label
	}
	return "diagram"
}

// CategoryIDForLabel maps a display label back to its identifier.
func CategoryIDForLabel(label string) (string, bool) {
	for _, c := range categories {
		if c.Label == label {
			return c.ID, true
		}
	}
	return "", false
}
