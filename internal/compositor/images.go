package compositor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/ManadaHerath/pixelmap-server/internal/log"
)

const maxImageBytes = 8 << 20

var (
	ErrImageStatus    = errors.New("unexpected image response status")
	ErrImageTooLarge  = errors.New("image too large")
	ErrImageNotCached = errors.New("image rejected by cache")
)

type ImageLoaderOptions struct {
	Client        *http.Client
	Timeout       time.Duration
	MaxConcurrent int64
	CacheBytes    int64
	// MaxPixels bounds width*height as declared by the image header.
	MaxPixels int64
	// MaxSide is the longest side kept after decoding; larger images are
	// downscaled before caching.
	MaxSide int
}

// ImageLoader fetches pixel images over HTTP in the background. Concurrent
// requests for one URL share a fetch, decoded images live in a cost-bounded
// cache, and a URL that failed once is never retried.
type ImageLoader struct {
	client    *http.Client
	timeout   time.Duration
	maxPixels int64
	maxSide   int
	sem       *semaphore.Weighted
	group   singleflight.Group
	cache   *ristretto.Cache[string, image.Image]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending map[string]struct{}
	failed  map[string]error
	onLoad  func(url string)
}

func NewImageLoader(opts ImageLoaderOptions) (*ImageLoader, error) {
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 8
	}
	if opts.CacheBytes <= 0 {
		opts.CacheBytes = 64 << 20
	}
	if opts.MaxPixels <= 0 {
		opts.MaxPixels = 16 << 20
	}
	if opts.MaxSide <= 0 {
		opts.MaxSide = 256
	}

	cache, err := ristretto.NewCache[string, image.Image](&ristretto.Config[string, image.Image]{
		NumCounters: 10000,
		MaxCost:     opts.CacheBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("compositor: image cache: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &ImageLoader{
		client:    opts.Client,
		timeout:   opts.Timeout,
		maxPixels: opts.MaxPixels,
		maxSide:   opts.MaxSide,
		sem:       semaphore.NewWeighted(opts.MaxConcurrent),
		cache:     cache,
		ctx:       ctx,
		cancel:    cancel,
		pending:   make(map[string]struct{}),
		failed:    make(map[string]error),
	}, nil
}

// OnLoad registers fn to run after an image lands in the cache.
func (l *ImageLoader) OnLoad(fn func(url string)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onLoad = fn
}

// Image returns the cached image for url. On a miss it starts a background
// fetch unless one is already running or the url has failed before.
func (l *ImageLoader) Image(url string) (image.Image, bool) {
	if img, ok := l.cache.Get(url); ok {
		return img, true
	}

	l.mu.Lock()
	_, busy := l.pending[url]
	_, bad := l.failed[url]
	if busy || bad || l.ctx.Err() != nil {
		l.mu.Unlock()
		return nil, false
	}
	l.pending[url] = struct{}{}
	l.mu.Unlock()

	l.wg.Add(1)
	go l.fetchAsync(url)
	return nil, false
}

// Failed returns the error recorded for url, if any.
func (l *ImageLoader) Failed(url string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failed[url]
}

func (l *ImageLoader) fetchAsync(url string) {
	defer l.wg.Done()
	_, err := l.Load(l.ctx, url)

	l.mu.Lock()
	delete(l.pending, url)
	if err != nil && l.ctx.Err() == nil {
		l.failed[url] = err
	}
	onLoad := l.onLoad
	l.mu.Unlock()

	if err != nil {
		log.WithField("url", url).Warnf("compositor: image load failed, keeping flat colour: %v", err)
		return
	}
	if onLoad != nil {
		onLoad(url)
	}
}

// Load fetches and decodes url, going through the cache. An image the cache
// refuses to hold is reported as ErrImageNotCached, so callers waiting on
// the cache never ask for it again.
func (l *ImageLoader) Load(ctx context.Context, url string) (image.Image, error) {
	if img, ok := l.cache.Get(url); ok {
		return img, nil
	}
	v, err, _ := l.group.Do(url, func() (interface{}, error) {
		if err := l.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer l.sem.Release(1)

		img, err := l.fetch(ctx, url)
		if err != nil {
			return nil, err
		}
		img = l.shrink(img)
		b := img.Bounds()
		if !l.cache.Set(url, img, int64(b.Dx()*b.Dy()*4)) {
			return nil, ErrImageNotCached
		}
		l.cache.Wait()
		// Set only buffers; the policy may still drop the entry.
		if _, ok := l.cache.Get(url); !ok {
			return nil, ErrImageNotCached
		}
		return img, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(image.Image), nil
}

func (l *ImageLoader) fetch(ctx context.Context, url string) (image.Image, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s", ErrImageStatus, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxImageBytes {
		return nil, fmt.Errorf("%w: over %d bytes", ErrImageTooLarge, maxImageBytes)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", url, err)
	}
	if px := int64(cfg.Width) * int64(cfg.Height); px > l.maxPixels {
		return nil, fmt.Errorf("%w: %dx%d", ErrImageTooLarge, cfg.Width, cfg.Height)
	}
	img, _, err := image.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", url, err)
	}
	return img, nil
}

// shrink downscales img so its longer side is at most maxSide.
func (l *ImageLoader) shrink(img image.Image) image.Image {
	b := img.Bounds()
	side := max(b.Dx(), b.Dy())
	if side <= l.maxSide {
		return img
	}
	w := max(1, b.Dx()*l.maxSide/side)
	h := max(1, b.Dy()*l.maxSide/side)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// Close stops background fetches and releases the cache.
func (l *ImageLoader) Close() {
	l.cancel()
	l.wg.Wait()
	l.cache.Close()
}
