package server

import "errors"

// CloseLine is a line of closers run one after another, in the order they
// were added.
type CloseLine struct {
	closers []func() error
}

// Add adds a closer that cannot fail.
func (c *CloseLine) Add(closer func()) {
	c.AddE(func() error {
		closer()
		return nil
	})
}

func (c *CloseLine) AddE(closeWithError func() error) {
	c.closers = append(c.closers, closeWithError)
}

// Close runs every closer, even after one fails, and empties the line.
func (c *CloseLine) Close() error {
	closers := c.closers
	c.closers = nil

	var errs []error
	for _, f := range closers {
		if f == nil {
			continue
		}
		if err := f(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
