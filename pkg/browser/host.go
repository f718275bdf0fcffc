package browser

import "context"

// Host is the port implemented by browser automation adapters. The bridge
// talks to the page exclusively through these primitives so tests can
// substitute an in-memory DOM.
type Host interface {
	// Navigate loads a URL in the driven tab and waits for the document body.
	Navigate(ctx context.Context, url string) error
	// Evaluate runs a script in page context and discards its result.
	Evaluate(ctx context.Context, script string) error
	// EvaluateValue runs a script expression and unmarshals its JSON result
	// into out.
	EvaluateValue(ctx context.Context, script string, out any) error
	// ElementExists reports whether an element with the given id is in the DOM.
	ElementExists(ctx context.Context, id string) (bool, error)
	// InnerText returns the text content of the element with the given id.
	InnerText(ctx context.Context, id string) (string, error)
	// InnerHTML returns the raw innerHTML of the element with the given id.
	InnerHTML(ctx context.Context, id string) (string, error)
	// RemoveElement deletes the element with the given id. Removing an
	// element that does not exist is not an error.
	RemoveElement(ctx context.Context, id string) error
	// Close releases the underlying browser resources.
	Close() error
}
