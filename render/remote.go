package render

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/tilezen/go-tilefetch/feature"
	"github.com/tilezen/go-tilefetch/internal/logutil"
)

const (
	httpUserAgent = "go-tilefetch/1.0"

	// LayerProperty names the feature property that assigns a remote
	// feature to one of the queried layers.
	LayerProperty = "layer"
)

// HTTPMapInfoFetcher asks a remote endpoint for the features at a screen
// position. The endpoint must answer with a GeoJSON FeatureCollection.
//
// URLTemplate may contain {x} {y} (world position), {px} {py} (pixel
// position), {resolution}, {width}, {height}, {bbox} and {layers}.
type HTTPMapInfoFetcher struct {
	URLTemplate string
	Retries     int

	client *http.Client
	logger *slog.Logger
}

func NewHTTPMapInfoFetcher(urlTemplate string, timeout time.Duration, logger *slog.Logger) *HTTPMapInfoFetcher {
	httpClient := &http.Client{}
	httpClient.Timeout = timeout
	httpClient.Transport = &http.Transport{
		MaxIdleConnsPerHost: 16,
		DisableCompression:  true,
	}

	return &HTTPMapInfoFetcher{
		URLTemplate: urlTemplate,
		Retries:     3,
		client:      httpClient,
		logger:      logutil.OrDiscard(logger),
	}
}

func (h *HTTPMapInfoFetcher) url(pos ScreenPosition, vp Viewport, layers []Layer) string {
	world := vp.ScreenToWorld(pos)
	extent := vp.Extent()

	names := make([]string, 0, len(layers))
	for _, l := range layers {
		names = append(names, l.Name())
	}

	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

	return strings.NewReplacer(
		"{x}", f(world.X()),
		"{y}", f(world.Y()),
		"{px}", f(pos.X),
		"{py}", f(pos.Y),
		"{resolution}", f(vp.Resolution),
		"{width}", f(vp.Width),
		"{height}", f(vp.Height),
		"{bbox}", strings.Join([]string{f(extent.Min.X()), f(extent.Min.Y()), f(extent.Max.X()), f(extent.Max.Y())}, ","),
		"{layers}", strings.Join(names, ","),
	).Replace(h.URLTemplate)
}

func (h *HTTPMapInfoFetcher) GetRemoteMapInfo(ctx context.Context, pos ScreenPosition, vp Viewport, layers []Layer) (MapInfo, error) {
	info := MapInfo{
		ScreenPosition: pos,
		WorldPosition:  vp.ScreenToWorld(pos),
		Resolution:     vp.Resolution,
	}
	if len(layers) == 0 {
		return info, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url(pos, vp, layers), nil)
	if err != nil {
		return info, fmt.Errorf("unable to create HTTP request: %w", err)
	}
	req.Header.Add("User-Agent", httpUserAgent)
	req.Header.Add("Accept-Encoding", "gzip")

	resp, err := doHTTPWithRetry(h.client, req, h.Retries, h.logger)
	if err != nil {
		return info, err
	}
	defer resp.Body.Close()

	var body io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return info, fmt.Errorf("couldn't open gzip body: %w", err)
		}
		defer gz.Close()
		body = gz
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return info, fmt.Errorf("error copying bytes from HTTP response: %w", err)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return info, fmt.Errorf("failed to parse feature info: %w", err)
	}

	byName := make(map[string]Layer, len(layers))
	for _, l := range layers {
		byName[l.Name()] = l
	}

	for _, gf := range fc.Features {
		l := layers[0]
		if name := gf.Properties.MustString(LayerProperty, ""); name != "" {
			if named, ok := byName[name]; ok {
				l = named
			}
		}
		f := feature.New(gf.Geometry)
		for k, v := range gf.Properties {
			f.Properties[k] = v
		}
		info.Records = append(info.Records, MapInfoRecord{Layer: l, Feature: f})
	}
	return info, nil
}

// doHTTPWithRetry retries server errors with exponential backoff. Any other
// non-200 status fails immediately.
func doHTTPWithRetry(client *http.Client, request *http.Request, nRetries int, logger *slog.Logger) (*http.Response, error) {
	sleep := 500 * time.Millisecond
	if nRetries < 1 {
		nRetries = 1
	}

	for i := 0; i < nRetries; i++ {
		resp, err := client.Do(request)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode == http.StatusOK {
			return resp, nil
		}
		resp.Body.Close()

		if resp.StatusCode < 500 || resp.StatusCode >= 600 {
			return nil, fmt.Errorf("GET %s: %s", request.URL, resp.Status)
		}

		logger.Debug("retrying feature info request", "url", request.URL.String(), "try", i, "status", resp.Status)

		select {
		case <-request.Context().Done():
			return nil, request.Context().Err()
		case <-time.After(sleep):
		}
		sleep *= 2
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
	}

	return nil, fmt.Errorf("ran out of HTTP GET retries for %s", request.URL)
}
