package cache

import (
	"context"

	"github.com/util6/safscache/transport"
)

// submitSync issues req against tr and blocks until it completes, adapting
// the transport's callback-based Submit to a plain synchronous call for the
// coordinator's fill path, where there is nothing useful to do concurrently
// with waiting for the page's own data to arrive.
func submitSync(ctx context.Context, tr transport.Transport, req *transport.Request) error {
	ch := make(chan transport.Status, 1)
	if err := tr.Submit(ctx, req, func(st transport.Status) { ch <- st }); err != nil {
		return err
	}
	select {
	case st := <-ch:
		return st.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}
