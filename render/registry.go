package render

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"sync"

	"github.com/gogpu/gg"
)

// BitmapRegistry holds the bitmaps icon symbols refer to by id. Create one
// per map and hand it to the renderer.
type BitmapRegistry struct {
	mu      sync.RWMutex
	next    int
	bitmaps map[int]image.Image
	bufs    map[int]*gg.ImageBuf
}

func NewBitmapRegistry() *BitmapRegistry {
	return &BitmapRegistry{
		next:    1,
		bitmaps: map[int]image.Image{},
		bufs:    map[int]*gg.ImageBuf{},
	}
}

// Register stores img and returns its id.
func (r *BitmapRegistry) Register(img image.Image) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.next
	r.next++
	r.bitmaps[id] = img
	return id
}

// RegisterEncoded decodes a PNG or JPEG image and stores it.
func (r *BitmapRegistry) RegisterEncoded(rd io.Reader) (int, error) {
	img, _, err := image.Decode(rd)
	if err != nil {
		return 0, fmt.Errorf("failed to decode bitmap: %w", err)
	}
	return r.Register(img), nil
}

func (r *BitmapRegistry) Get(id int) (image.Image, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	img, ok := r.bitmaps[id]
	return img, ok
}

// Unregister removes id and reports whether it was present.
func (r *BitmapRegistry) Unregister(id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.bitmaps[id]
	delete(r.bitmaps, id)
	delete(r.bufs, id)
	return ok
}

// imageBuf returns the bitmap converted for drawing, converting it once.
func (r *BitmapRegistry) imageBuf(id int) (*gg.ImageBuf, bool) {
	if r == nil {
		return nil, false
	}

	r.mu.RLock()
	buf, ok := r.bufs[id]
	img, found := r.bitmaps[id]
	r.mu.RUnlock()
	if ok {
		return buf, true
	}
	if !found {
		return nil, false
	}

	buf = gg.ImageBufFromImage(img)
	r.mu.Lock()
	if r.bitmaps[id] == img {
		r.bufs[id] = buf
	}
	r.mu.Unlock()
	return buf, true
}
