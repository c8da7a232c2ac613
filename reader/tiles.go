package reader

import (
	"fmt"

	"github.com/PolusAI/bfiocpp/bfio"
)

// PlanTiles starts a tile iteration session over the whole image, replacing any
// previous session.  Tiles are rowStride by colStride regions, clipped at the image
// edges, ordered by t, c, z, then row and column.
func (r *Reader) PlanTiles(tileHeight, tileWidth, rowStride, colStride int64) error {
	requests, err := bfio.PlanTiles(r.desc.Shape, tileHeight, tileWidth, rowStride, colStride)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = requests
	r.next = 0
	r.rowStride = rowStride
	r.colStride = colStride
	bfio.Debugf("Planned %d tiles of %s with stride %dx%d\n", len(requests), r.path, rowStride, colStride)
	return nil
}

// Next returns the next request of the session and false once all are consumed.
func (r *Reader) Next() (bfio.TileRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.next >= len(r.requests) {
		return bfio.TileRequest{}, false
	}
	req := r.requests[r.next]
	r.next++
	return req, true
}

// Requests returns a copy of all requests in the session.
func (r *Reader) Requests() []bfio.TileRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bfio.TileRequest(nil), r.requests...)
}

// TileCoordinate returns the (row, col) position of a request in the session's
// stride grid.
func (r *Reader) TileCoordinate(req bfio.TileRequest) (row, col int64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rowStride == 0 {
		return 0, 0, fmt.Errorf("no tiles planned for %s", r.path)
	}
	row, col = bfio.TileCoordinate(req, r.rowStride, r.colStride)
	return row, col, nil
}
