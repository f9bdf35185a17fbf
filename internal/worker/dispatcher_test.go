package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisepythagoras/matilda/internal/tiling"
	"github.com/wisepythagoras/matilda/internal/tilestore"
	"github.com/wisepythagoras/matilda/internal/worker/domain"
	"github.com/wisepythagoras/matilda/internal/worker/fetcher"
)

var manhattan = tiling.NewBoundingBox([4]float64{40.699251, -74.025793, 40.742120, -73.968458})

// recordingFetcher serves synthetic tile bodies and remembers every URL
type recordingFetcher struct {
	mu    sync.Mutex
	urls  []string
	fail  map[string]error
	block bool
	calls chan string
}

func (f *recordingFetcher) Fetch(ctx context.Context, url, referrer string) (io.ReadCloser, error) {
	f.mu.Lock()
	f.urls = append(f.urls, url)
	err := f.fail[url]
	f.mu.Unlock()

	if f.calls != nil {
		f.calls <- url
	}
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return io.NopCloser(strings.NewReader("tile " + url + " " + referrer)), nil
}

func (f *recordingFetcher) fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.urls...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newRequest(root string, bbox tiling.BoundingBox, zoom tiling.ZoomRange) *Request {
	return &Request{
		SourceURLTemplate: "https://tiles.test/{z}/{x}/{y}.png",
		BBox:              bbox,
		Zoom:              zoom,
		OutputRoot:        root,
		Format:            domain.FormatPNG,
	}
}

func TestDispatcher_ManhattanEndToEnd(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		fmt.Fprintf(w, "png%s", r.URL.Path)
	}))
	defer server.Close()

	root := filepath.Join(t.TempDir(), "tiles")
	d := NewDispatcher(&Config{
		Logger:      testLogger(),
		Fetcher:     fetcher.NewHTTPFetcher(fetcher.DefaultOptions()),
		Concurrency: 4,
	})

	req := newRequest(root, manhattan, tiling.ZoomRange{Min: 14, Max: 14})
	req.SourceURLTemplate = server.URL + "/{z}/{x}/{y}.png"

	summary, err := d.Run(context.Background(), req)
	require.NoError(t, err)

	b := tiling.BoundsAt(manhattan, 14)
	require.Equal(t, tiling.TileIndexBounds{North: 6158, South: 6160, West: 4823, East: 4825}, b)
	assert.Equal(t, b.Cols()*b.Rows(), summary.Completed)
	assert.Equal(t, 9, summary.Fetched)
	assert.Zero(t, summary.Failed)
	assert.False(t, summary.Canceled)
	assert.NotEmpty(t, summary.RunID)

	for x := b.West; x <= b.East; x++ {
		for y := b.North; y <= b.South; y++ {
			path := filepath.Join(root, "14", fmt.Sprint(x), fmt.Sprintf("%d.png", y))
			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, fmt.Sprintf("png/14/%d/%d.png", x, y), string(data))
		}
	}
}

func TestDispatcher_SecondRunFetchesNothing(t *testing.T) {
	root := t.TempDir()
	req := newRequest(root, manhattan, tiling.ZoomRange{Min: 12, Max: 15})

	first := &recordingFetcher{}
	s1, err := NewDispatcher(&Config{Logger: testLogger(), Fetcher: first, Concurrency: 3}).Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, tiling.Total(manhattan, req.Zoom), s1.Completed)
	assert.Len(t, first.fetched(), s1.Completed)

	second := &recordingFetcher{}
	s2, err := NewDispatcher(&Config{Logger: testLogger(), Fetcher: second, Concurrency: 3}).Run(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, second.fetched())
	assert.Equal(t, s1.Completed, s2.Completed)
	assert.Equal(t, s2.Completed, s2.Resumed)
}

func TestDispatcher_PrepopulatedTileIsNotFetched(t *testing.T) {
	root := t.TempDir()
	present := tiling.Coordinate{Z: 14, X: 4824, Y: 6159}
	require.NoError(t, tilestore.EnsureDirectories(root, present))
	require.NoError(t, os.WriteFile(tilestore.ResolvePath(root, present, domain.FormatPNG), []byte("old"), 0o644))

	f := &recordingFetcher{}
	summary, err := NewDispatcher(&Config{Logger: testLogger(), Fetcher: f, Concurrency: 2}).
		Run(context.Background(), newRequest(root, manhattan, tiling.ZoomRange{Min: 14, Max: 14}))
	require.NoError(t, err)

	assert.Equal(t, 9, summary.Completed)
	assert.Equal(t, 1, summary.Resumed)
	assert.Equal(t, 8, summary.Fetched)
	assert.NotContains(t, f.fetched(), "https://tiles.test/14/4824/6159.png")

	data, err := os.ReadFile(tilestore.ResolvePath(root, present, domain.FormatPNG))
	require.NoError(t, err)
	assert.Equal(t, "old", string(data), "resumed tile is left untouched")
}

func TestDispatcher_OutputRootIsAFile(t *testing.T) {
	root := filepath.Join(t.TempDir(), "tiles")
	require.NoError(t, os.WriteFile(root, []byte("not a dir"), 0o644))

	f := &recordingFetcher{}
	summary, err := NewDispatcher(&Config{Logger: testLogger(), Fetcher: f, Concurrency: 4}).
		Run(context.Background(), newRequest(root, manhattan, tiling.ZoomRange{Min: 14, Max: 14}))

	var pathErr *domain.PathError
	require.ErrorAs(t, err, &pathErr)
	assert.Equal(t, root, pathErr.Path)
	assert.Zero(t, summary.Issued)
	assert.Zero(t, summary.Completed)
	assert.Empty(t, f.fetched())
}

func TestDispatcher_IntermediateDirectoryFailureIsFatal(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "14"), nil, 0o644))

	f := &recordingFetcher{}
	summary, err := NewDispatcher(&Config{Logger: testLogger(), Fetcher: f, Concurrency: 2}).
		Run(context.Background(), newRequest(root, manhattan, tiling.ZoomRange{Min: 14, Max: 14}))

	var pathErr *domain.PathError
	require.ErrorAs(t, err, &pathErr)
	assert.Equal(t, filepath.Join(root, "14"), pathErr.Path)
	assert.LessOrEqual(t, summary.Issued, 2, "nothing is issued after the fatal report")
	assert.Zero(t, summary.Completed)
	assert.Empty(t, f.fetched())
}

func TestDispatcher_SingleWorkerCanonicalOrder(t *testing.T) {
	column := tiling.BoundingBox{South: 40.699251, West: -74.025793, North: 40.742120, East: -74.025793}
	zoom := tiling.ZoomRange{Min: 14, Max: 14}
	require.Equal(t, 3, tiling.Total(column, zoom))

	f := &recordingFetcher{}
	d := NewDispatcher(&Config{Logger: testLogger(), Fetcher: f, Concurrency: 1})
	summary, err := d.Run(context.Background(), newRequest(t.TempDir(), column, zoom))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"https://tiles.test/14/4823/6158.png",
		"https://tiles.test/14/4823/6159.png",
		"https://tiles.test/14/4823/6160.png",
	}, f.fetched())
	assert.Equal(t, 3, summary.Issued)
	assert.Equal(t, 3, summary.Completed)
	assert.Equal(t, domain.StateStopped.String(), d.Progress().Snapshot().State)
}

func TestDispatcher_MoreWorkersThanTiles(t *testing.T) {
	column := tiling.BoundingBox{South: 40.699251, West: -74.025793, North: 40.742120, East: -74.025793}

	f := &recordingFetcher{}
	summary, err := NewDispatcher(&Config{Logger: testLogger(), Fetcher: f, Concurrency: 16}).
		Run(context.Background(), newRequest(t.TempDir(), column, tiling.ZoomRange{Min: 14, Max: 14}))
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Completed)
	assert.Len(t, f.fetched(), 3)
}

func TestDispatcher_EveryAddressIssuedExactlyOnce(t *testing.T) {
	zoom := tiling.ZoomRange{Min: 10, Max: 16}
	f := &recordingFetcher{}

	summary, err := NewDispatcher(&Config{Logger: testLogger(), Fetcher: f, Concurrency: 8}).
		Run(context.Background(), newRequest(t.TempDir(), manhattan, zoom))
	require.NoError(t, err)

	want := make(map[string]bool)
	it := tiling.NewRangeIterator(manhattan, zoom)
	for c, ok := it.Next(); ok; c, ok = it.Next() {
		want[fmt.Sprintf("https://tiles.test/%d/%d/%d.png", c.Z, c.X, c.Y)] = true
	}

	got := make(map[string]int)
	for _, u := range f.fetched() {
		got[u]++
	}

	assert.Len(t, got, len(want))
	for u, n := range got {
		assert.True(t, want[u], "unexpected url %s", u)
		assert.Equal(t, 1, n, "url %s fetched %d times", u, n)
	}
	assert.Equal(t, tiling.Total(manhattan, zoom), summary.Completed)
	assert.Equal(t, summary.Completed, summary.Issued)
}

func TestDispatcher_FetchFailureIsNotFatal(t *testing.T) {
	root := t.TempDir()
	broken := "https://tiles.test/14/4825/6160.png"
	f := &recordingFetcher{fail: map[string]error{broken: fetcher.ErrNotFound}}

	req := newRequest(root, manhattan, tiling.ZoomRange{Min: 14, Max: 14})
	summary, err := NewDispatcher(&Config{Logger: testLogger(), Fetcher: f, Concurrency: 3, Verbose: true}).
		Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 8, summary.Completed)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 9, summary.Issued)
	assert.False(t, tilestore.Exists(tilestore.ResolvePath(root, tiling.Coordinate{Z: 14, X: 4825, Y: 6160}, domain.FormatPNG)))

	// a rerun retries only the missing tile
	retry := &recordingFetcher{}
	summary, err = NewDispatcher(&Config{Logger: testLogger(), Fetcher: retry, Concurrency: 3}).Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{broken}, retry.fetched())
	assert.Equal(t, 9, summary.Completed)
}

func TestDispatcher_CancelStopsIssuing(t *testing.T) {
	f := &recordingFetcher{block: true, calls: make(chan string, 16)}
	d := NewDispatcher(&Config{Logger: testLogger(), Fetcher: f, Concurrency: 2})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		<-f.calls
		<-f.calls
		cancel()
	}()

	summary, err := d.Run(ctx, newRequest(t.TempDir(), manhattan, tiling.ZoomRange{Min: 14, Max: 16}))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, summary.Canceled)
	assert.Equal(t, 2, summary.Issued)
	assert.Equal(t, 2, summary.Failed)
	assert.Less(t, summary.Issued, summary.Total)
}

func TestDispatcher_CancelAfterLastIssuance(t *testing.T) {
	f := &recordingFetcher{block: true, calls: make(chan string, 1)}
	journal := &fakeJournal{}
	d := NewDispatcher(&Config{Logger: testLogger(), Fetcher: f, Journal: journal, Concurrency: 1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		<-f.calls
		cancel()
	}()

	point := tiling.NewBoundingBox([4]float64{40.7, -74.0, 40.7, -74.0})
	zoom := tiling.ZoomRange{Min: 14, Max: 14}
	require.Equal(t, 1, tiling.Total(point, zoom))

	summary, err := d.Run(ctx, newRequest(t.TempDir(), point, zoom))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, summary.Canceled)
	assert.Equal(t, 1, summary.Issued)
	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.Failed)

	require.Len(t, journal.finished, 1)
	assert.Equal(t, domain.RunStatusCanceled, journal.finished[0].Status)
}

// truncatedBody yields a few bytes and then fails mid-stream
type truncatedBody struct{ sent bool }

func (b *truncatedBody) Read(p []byte) (int, error) {
	if b.sent {
		return 0, errors.New("connection reset")
	}
	b.sent = true
	return copy(p, "partial"), nil
}

func (b *truncatedBody) Close() error { return nil }

type truncatingFetcher struct{}

func (truncatingFetcher) Fetch(ctx context.Context, url, referrer string) (io.ReadCloser, error) {
	return &truncatedBody{}, nil
}

func TestProcessJob_FailedCopyStoresNothing(t *testing.T) {
	root := t.TempDir()
	d := NewDispatcher(&Config{Logger: testLogger(), Fetcher: truncatingFetcher{}, Concurrency: 1})

	job := &domain.JobDescriptor{
		Address:           tiling.Coordinate{Z: 14, X: 4823, Y: 6158},
		SourceURLTemplate: "https://tiles.test/{z}/{x}/{y}.png",
		OutputRoot:        root,
		Format:            domain.FormatPNG,
	}

	rep := d.processJob(context.Background(), testLogger(), "run", 0, job)
	assert.Equal(t, domain.OutcomeFailed, rep.Outcome)
	require.Error(t, rep.Err)
	assert.Zero(t, rep.Bytes)
	assert.False(t, tilestore.Exists(tilestore.ResolvePath(root, job.Address, job.Format)))
}

type fakeJournal struct {
	mu       sync.Mutex
	started  []string
	finished []*domain.Run
}

func (j *fakeJournal) StartRun(ctx context.Context, run *domain.Run) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.started = append(j.started, run.Status)
	return nil
}

func (j *fakeJournal) FinishRun(ctx context.Context, run *domain.Run) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	cp := *run
	j.finished = append(j.finished, &cp)
	return errors.New("journal offline")
}

type fakePublisher struct {
	mu    sync.Mutex
	tiles []*domain.TileEvent
	runs  []*domain.Run
}

func (p *fakePublisher) PublishTile(ctx context.Context, event *domain.TileEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tiles = append(p.tiles, event)
	return nil
}

func (p *fakePublisher) PublishRun(ctx context.Context, run *domain.Run) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runs = append(p.runs, run)
	return nil
}

func TestDispatcher_JournalAndPublisher(t *testing.T) {
	journal := &fakeJournal{}
	publisher := &fakePublisher{}
	root := t.TempDir()

	present := tiling.Coordinate{Z: 14, X: 4823, Y: 6158}
	require.NoError(t, tilestore.EnsureDirectories(root, present))
	require.NoError(t, os.WriteFile(tilestore.ResolvePath(root, present, domain.FormatPNG), []byte("old"), 0o644))

	summary, err := NewDispatcher(&Config{
		Logger:      testLogger(),
		Fetcher:     &recordingFetcher{},
		Journal:     journal,
		Publisher:   publisher,
		Concurrency: 2,
	}).Run(context.Background(), newRequest(root, manhattan, tiling.ZoomRange{Min: 14, Max: 14}))
	require.NoError(t, err, "journal failures never fail the run")

	assert.Equal(t, []string{domain.RunStatusRunning}, journal.started)
	require.Len(t, journal.finished, 1)
	run := journal.finished[0]
	assert.Equal(t, domain.RunStatusCompleted, run.Status)
	assert.Equal(t, summary.RunID, run.RunID)
	assert.Equal(t, 9, run.Completed)
	assert.Equal(t, 1, run.Resumed)
	assert.NotNil(t, run.FinishedAt)

	assert.Len(t, publisher.tiles, 8, "resumed tiles are not announced")
	for _, ev := range publisher.tiles {
		assert.Equal(t, summary.RunID, ev.RunID)
		assert.FileExists(t, ev.Path)
	}
	require.Len(t, publisher.runs, 1)
	assert.Equal(t, domain.RunStatusCompleted, publisher.runs[0].Status)
}

func TestDispatcher_AtomicWritesLeaveNoPartFiles(t *testing.T) {
	root := t.TempDir()
	_, err := NewDispatcher(&Config{Logger: testLogger(), Fetcher: &recordingFetcher{}, Concurrency: 2, AtomicWrites: true}).
		Run(context.Background(), newRequest(root, manhattan, tiling.ZoomRange{Min: 14, Max: 14}))
	require.NoError(t, err)

	var files []string
	require.NoError(t, filepath.WalkDir(root, func(path string, de os.DirEntry, err error) error {
		if err == nil && !de.IsDir() {
			files = append(files, path)
		}
		return err
	}))
	assert.Len(t, files, 9)
	for _, f := range files {
		assert.True(t, strings.HasSuffix(f, ".png"), f)
	}
}

func TestDispatcher_ReferrerIsForwarded(t *testing.T) {
	root := t.TempDir()
	column := tiling.BoundingBox{South: 40.7, West: -74.0, North: 40.7, East: -74.0}
	req := newRequest(root, column, tiling.ZoomRange{Min: 5, Max: 5})
	req.Referrer = "https://maps.test/"

	_, err := NewDispatcher(&Config{Logger: testLogger(), Fetcher: &recordingFetcher{}, Concurrency: 1}).Run(context.Background(), req)
	require.NoError(t, err)

	c := tiling.Coordinate{Z: 5, X: tiling.LongitudeToTileX(-74.0, 5), Y: tiling.LatitudeToTileY(40.7, 5)}
	data, err := os.ReadFile(tilestore.ResolvePath(root, c, domain.FormatPNG))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(data), " https://maps.test/"))
}

func TestNewDispatcher_Defaults(t *testing.T) {
	d := NewDispatcher(&Config{})
	assert.Positive(t, d.Concurrency())
	assert.Equal(t, DefaultProgressInterval, d.progressInterval)
	assert.NotNil(t, d.fetcher)
	assert.Equal(t, domain.StateStarting.String(), d.Progress().Snapshot().State)
}
