package detail

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/bgg-sync/internal/testutil"
	"github.com/Sternrassler/bgg-sync/pkg/client"
	"github.com/Sternrassler/bgg-sync/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubThings answers batches with generated items and records what was requested.
type stubThings struct {
	batches  [][]string
	failures map[int][]error // by 1-based call number
	override func(ids []string) string
	calls    int
}

func (s *stubThings) FetchThings(_ context.Context, ids []string) ([]byte, error) {
	s.calls++
	s.batches = append(s.batches, append([]string(nil), ids...))
	if errs := s.failures[s.calls]; len(errs) > 0 {
		return nil, errs[0]
	}
	if s.override != nil {
		if doc := s.override(ids); doc != "" {
			return []byte(doc), nil
		}
	}

	items := make([]string, len(ids))
	for i, id := range ids {
		items[i] = testutil.ThingItemXML(id)
	}
	return []byte(testutil.ThingsDocument(items...)), nil
}

type recordingPacer struct {
	pauses []time.Duration
}

func (p *recordingPacer) Pause(_ context.Context, d time.Duration) error {
	p.pauses = append(p.pauses, d)
	return nil
}

func makeIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("%d", 1000+i)
	}
	return ids
}

func noSleepPolicy(delays *[]time.Duration) *retry.Policy {
	p := retry.DefaultPolicy("detail_batch")
	p.Sleep = func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	}
	return &p
}

func TestBatchCount(t *testing.T) {
	assert.Equal(t, 0, BatchCount(0, 100))
	assert.Equal(t, 1, BatchCount(1, 100))
	assert.Equal(t, 1, BatchCount(100, 100))
	assert.Equal(t, 2, BatchCount(101, 100))
	assert.Equal(t, 3, BatchCount(250, 100))
}

func TestFetch_BatchesAndPauses(t *testing.T) {
	things := &stubThings{}
	pacer := &recordingPacer{}
	fetcher := NewFetcher(things, pacer, Config{InterBatchDelay: 120 * time.Second})

	ids := makeIDs(250)
	records, err := fetcher.Fetch(context.Background(), ids)
	require.NoError(t, err)

	require.Len(t, things.batches, 3)
	assert.Len(t, things.batches[0], 100)
	assert.Len(t, things.batches[1], 100)
	assert.Len(t, things.batches[2], 50)
	assert.Equal(t, ids[200:], things.batches[2])

	assert.Equal(t, []time.Duration{120 * time.Second, 120 * time.Second}, pacer.pauses)

	require.Len(t, records, 250)
	for i, r := range records {
		assert.Equal(t, ids[i], r.ID)
	}
}

func TestFetch_EmptyInput(t *testing.T) {
	things := &stubThings{}
	pacer := &recordingPacer{}
	fetcher := NewFetcher(things, pacer, DefaultConfig())

	records, err := fetcher.Fetch(context.Background(), nil)
	require.NoError(t, err)

	assert.NotNil(t, records)
	assert.Empty(t, records)
	assert.Zero(t, things.calls)
	assert.Empty(t, pacer.pauses)
}

func TestFetch_SingleBatchNoPause(t *testing.T) {
	things := &stubThings{}
	pacer := &recordingPacer{}
	fetcher := NewFetcher(things, pacer, DefaultConfig())

	records, err := fetcher.Fetch(context.Background(), makeIDs(100))
	require.NoError(t, err)

	assert.Len(t, records, 100)
	assert.Equal(t, 1, things.calls)
	assert.Empty(t, pacer.pauses)
}

func TestFetch_ZeroDelayDisablesPacing(t *testing.T) {
	things := &stubThings{}
	pacer := &recordingPacer{}
	fetcher := NewFetcher(things, pacer, Config{ChunkSize: 2})

	records, err := fetcher.Fetch(context.Background(), makeIDs(5))
	require.NoError(t, err)

	assert.Len(t, records, 5)
	assert.Equal(t, 3, things.calls)
	assert.Equal(t, []time.Duration{0, 0}, pacer.pauses)
}

func TestFetch_PartialRetryPolicyCompleted(t *testing.T) {
	var delays []time.Duration
	things := &stubThings{failures: map[int][]error{
		1: {&client.RemoteError{StatusCode: http.StatusBadGateway, ErrorClass: client.ErrorClassServer}},
	}}
	cfg := Config{Retry: &retry.Policy{
		MaxAttempts: 2,
		Sleep: func(ctx context.Context, d time.Duration) error {
			delays = append(delays, d)
			return ctx.Err()
		},
	}}
	fetcher := NewFetcher(things, &recordingPacer{}, cfg)

	records, err := fetcher.Fetch(context.Background(), makeIDs(3))
	require.NoError(t, err)

	assert.Len(t, records, 3)
	assert.Equal(t, 2, things.calls)
	assert.Equal(t, []time.Duration{time.Second}, delays)
}

func TestFetchWithDelay_OverridesDelay(t *testing.T) {
	things := &stubThings{}
	pacer := &recordingPacer{}
	fetcher := NewFetcher(things, pacer, DefaultConfig())

	_, err := fetcher.FetchWithDelay(context.Background(), makeIDs(201), 60*time.Second)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{60 * time.Second, 60 * time.Second}, pacer.pauses)

	pacer.pauses = nil
	_, err = fetcher.FetchWithDelay(context.Background(), makeIDs(201), 0)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{0, 0}, pacer.pauses)
}

func TestFetch_MalformedBatchAbortsDiscarding(t *testing.T) {
	things := &stubThings{
		override: func(ids []string) string {
			if ids[0] != "1100" {
				return ""
			}
			item := strings.Replace(testutil.ThingItemXML(ids[0]), `<yearpublished value="2017"/>`, "", 1)
			rest := make([]string, 0, len(ids))
			rest = append(rest, item)
			for _, id := range ids[1:] {
				rest = append(rest, testutil.ThingItemXML(id))
			}
			return testutil.ThingsDocument(rest...)
		},
	}
	pacer := &recordingPacer{}
	var delays []time.Duration
	cfg := DefaultConfig()
	cfg.Retry = noSleepPolicy(&delays)
	fetcher := NewFetcher(things, pacer, cfg)

	records, err := fetcher.Fetch(context.Background(), makeIDs(250))
	require.Error(t, err)

	assert.Nil(t, records)
	assert.ErrorIs(t, err, ErrMalformedResponse)
	assert.Contains(t, err.Error(), "detail batch 2/3")
	assert.Equal(t, 2, things.calls, "parse errors are not retried and later batches are skipped")
	assert.Empty(t, delays)
	assert.Len(t, pacer.pauses, 1)
}

func TestFetch_ReturnCompletedOnFailure(t *testing.T) {
	things := &stubThings{failures: map[int][]error{
		2: {&client.RemoteError{StatusCode: http.StatusNotFound, ErrorClass: client.ErrorClassClient}},
	}}
	cfg := DefaultConfig()
	cfg.FailurePolicy = ReturnCompleted
	fetcher := NewFetcher(things, &recordingPacer{}, cfg)

	ids := makeIDs(250)
	records, err := fetcher.Fetch(context.Background(), ids)
	require.Error(t, err)

	var remoteErr *client.RemoteError
	require.ErrorAs(t, err, &remoteErr)
	require.Len(t, records, 100)
	assert.Equal(t, ids[0], records[0].ID)
	assert.Equal(t, ids[99], records[99].ID)
}

func TestFetch_TransientErrorRetried(t *testing.T) {
	things := &stubThings{failures: map[int][]error{
		1: {&client.RemoteError{StatusCode: http.StatusAccepted, ErrorClass: client.ErrorClassQueued}},
		2: {&client.RemoteError{StatusCode: http.StatusBadGateway, ErrorClass: client.ErrorClassServer}},
	}}
	var delays []time.Duration
	cfg := DefaultConfig()
	cfg.Retry = noSleepPolicy(&delays)
	fetcher := NewFetcher(things, &recordingPacer{}, cfg)

	records, err := fetcher.Fetch(context.Background(), makeIDs(10))
	require.NoError(t, err)

	assert.Len(t, records, 10)
	assert.Equal(t, 3, things.calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, delays)
}

func TestFetch_NoRetryPolicySendsOnce(t *testing.T) {
	things := &stubThings{failures: map[int][]error{
		1: {&client.RemoteError{StatusCode: http.StatusBadGateway, ErrorClass: client.ErrorClassServer}},
	}}
	cfg := DefaultConfig()
	cfg.Retry = nil
	fetcher := NewFetcher(things, &recordingPacer{}, cfg)

	_, err := fetcher.Fetch(context.Background(), makeIDs(10))
	require.Error(t, err)
	assert.Equal(t, 1, things.calls)
	assert.NotErrorIs(t, err, retry.ErrRetryExhausted)
}

func TestFetch_OnBatchCheckpoint(t *testing.T) {
	var checkpoints []int
	var sizes []int
	cfg := DefaultConfig()
	cfg.OnBatch = func(_ context.Context, batch int, records []Record) error {
		checkpoints = append(checkpoints, batch)
		sizes = append(sizes, len(records))
		return nil
	}
	fetcher := NewFetcher(&stubThings{}, &recordingPacer{}, cfg)

	_, err := fetcher.Fetch(context.Background(), makeIDs(230))
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3}, checkpoints)
	assert.Equal(t, []int{100, 100, 30}, sizes)
}

func TestFetch_OnBatchErrorAborts(t *testing.T) {
	saveErr := errors.New("disk full")
	cfg := DefaultConfig()
	cfg.OnBatch = func(context.Context, int, []Record) error { return saveErr }
	things := &stubThings{}
	fetcher := NewFetcher(things, &recordingPacer{}, cfg)

	records, err := fetcher.Fetch(context.Background(), makeIDs(150))
	assert.ErrorIs(t, err, saveErr)
	assert.Contains(t, err.Error(), "checkpoint batch 1/2")
	assert.Nil(t, records)
	assert.Equal(t, 1, things.calls)
}

func TestFetch_AgainstMockServer(t *testing.T) {
	mock := testutil.NewMockBGG()
	defer mock.Close()

	mock.SetThing("224517", strings.Replace(testutil.ThingItemXML("224517"), `<minage value="14"/>`, `<minage value="21 and up"/>`, 1))

	c, err := client.New(client.Config{
		BrowseURL: mock.BrowseURL(),
		APIURL:    mock.APIURL(),
		UserAgent: "bgg-sync-test/1.0",
		Timeout:   5 * time.Second,
	})
	require.NoError(t, err)

	pacer := &recordingPacer{}
	fetcher := NewFetcher(c, pacer, DefaultConfig())

	records, err := fetcher.Fetch(context.Background(), []string{"174430", "224517"})
	require.NoError(t, err)

	require.Len(t, records, 2)
	assert.Equal(t, "174430", records[0].ID)
	assert.Equal(t, 14, records[0].MinAge)
	assert.Equal(t, "224517", records[1].ID)
	assert.Equal(t, 21, records[1].MinAge)
	assert.Equal(t, "174430,224517", mock.LastQuery("id"))
	assert.Equal(t, "1", mock.LastQuery("stats"))
	assert.Empty(t, pacer.pauses)
}

func TestFetchWithCheckpoint_OverridesOnBatch(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OnBatch = func(context.Context, int, []Record) error {
		t.Error("Config.OnBatch must not run when a per-call checkpoint is given")
		return nil
	}
	fetcher := NewFetcher(&stubThings{}, &recordingPacer{}, cfg)

	var batches []int
	_, err := fetcher.FetchWithCheckpoint(context.Background(), makeIDs(120), 0, func(_ context.Context, batch int, _ []Record) error {
		batches = append(batches, batch)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, batches)
}
