package tasks

import (
	"fmt"
	"runtime/debug"

	"golang.org/x/sync/errgroup"
)

// Group runs background tasks. A task that panics or returns an error is
// reported to HandleCrit instead of taking the process down.
type Group struct {
	errgroup.Group
	HandleCrit func(err error)
}

func (t *Group) Go(fn func() error) {
	t.Group.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
			}
			if err != nil && t.HandleCrit != nil {
				t.HandleCrit(err)
			}
		}()
		return fn()
	})
}
