package diag

import (
	"fmt"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// UnitError aggregates every record error of one translation unit.
type UnitError struct {
	Unit    string
	Backend string
	merr    *multierror.Error
}

func (u *UnitError) Error() string {
	return u.merr.Error()
}

// Errors returns the aggregated errors in the order they were added.
func (u *UnitError) Errors() []error {
	return u.merr.WrappedErrors()
}

// Unwrap exposes the aggregated errors to errors.Is and errors.As.
func (u *UnitError) Unwrap() []error {
	return u.Errors()
}

// Len returns the number of aggregated errors.
func (u *UnitError) Len() int {
	return u.merr.Len()
}

// Collector gathers record errors for one unit. Safe for concurrent use.
type Collector struct {
	unit    string
	backend string

	mu   sync.Mutex
	merr *multierror.Error
}

// NewCollector creates a collector for a unit and backend. Backend may be
// empty for backend-independent checks.
func NewCollector(unit, backend string) *Collector {
	return &Collector{unit: unit, backend: backend}
}

// Add records err. Nil errors are ignored.
func (c *Collector) Add(errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, err := range errs {
		if err == nil {
			continue
		}
		c.merr = multierror.Append(c.merr, err)
	}
}

// Err returns nil if nothing was collected, otherwise a *UnitError.
func (c *Collector) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.merr.ErrorOrNil() == nil {
		return nil
	}
	merr := &multierror.Error{
		Errors:      append([]error(nil), c.merr.Errors...),
		ErrorFormat: c.format,
	}
	return &UnitError{Unit: c.unit, Backend: c.backend, merr: merr}
}

func (c *Collector) format(errs []error) string {
	var b strings.Builder
	where := c.unit
	if c.backend != "" {
		where = fmt.Sprintf("%s [%s]", c.unit, c.backend)
	}
	fmt.Fprintf(&b, "%s: %d error(s) occurred:", where, len(errs))
	for _, err := range errs {
		fmt.Fprintf(&b, "\n\t* %s", err)
	}
	return b.String()
}
