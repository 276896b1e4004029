package schemas

// -- Browser Element Schemas --

// Point is a viewport coordinate in CSS pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ElementInfo describes one element matched by a query. It is a snapshot:
// the element may change or disappear after it is taken.
type ElementInfo struct {
	Index     int               `json:"index"` // Position in the query's match list.
	Tag       string            `json:"tag"`
	Text      string            `json:"text"` // Normalized visible text (whitespace collapsed).
	Href      string            `json:"href,omitempty"`
	AriaLabel string            `json:"ariaLabel,omitempty"`
	Role      string            `json:"role,omitempty"`
	Visible   bool              `json:"visible"`
	Center    Point             `json:"center"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

// WaitPolicy selects what a navigation waits for before returning.
type WaitPolicy string

const (
	WaitLoad        WaitPolicy = "load"        // The load event fired.
	WaitNetworkIdle WaitPolicy = "networkidle" // No requests in flight for the quiet period.
)
