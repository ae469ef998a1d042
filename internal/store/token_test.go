package store_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/store"
)

func TestPageToken_RoundTrip(t *testing.T) {
	req := store.SearchRequest{FilterRaw: "metrics.m > 1", ViewType: model.ViewActiveOnly}
	fp := req.Fingerprint()

	tok := store.EncodePageToken(fp, 40)
	off, err := store.DecodePageToken(tok, fp)
	require.NoError(t, err)
	assert.Equal(t, int64(40), off)

	off, err = store.DecodePageToken("", fp)
	require.NoError(t, err)
	assert.Zero(t, off)
}

func TestPageToken_RejectsForeignQuery(t *testing.T) {
	a := store.SearchRequest{FilterRaw: "metrics.m > 1"}
	b := store.SearchRequest{FilterRaw: "metrics.m > 2"}
	tok := store.EncodePageToken(a.Fingerprint(), 10)

	_, err := store.DecodePageToken(tok, b.Fingerprint())
	require.Error(t, err)
	assert.Equal(t, model.ErrCodeInvalidParameterValue, model.CodeOf(err))
}

func TestPageToken_RejectsGarbage(t *testing.T) {
	for _, tok := range []string{"not-base64!!", "aGVsbG8=", "eyJvIjotMX0="} {
		_, err := store.DecodePageToken(tok, 1)
		require.Error(t, err, tok)
	}
}

func TestFingerprint_SensitiveToStructure(t *testing.T) {
	base := store.SearchRequest{
		ExperimentIDs: []string{"1", "2"},
		FilterRaw:     "tags.env = 'prod'",
		OrderByRaw:    []string{"start_time DESC"},
		ViewType:      model.ViewActiveOnly,
	}
	variants := []store.SearchRequest{
		{ExperimentIDs: []string{"1"}, FilterRaw: base.FilterRaw, OrderByRaw: base.OrderByRaw, ViewType: base.ViewType},
		{ExperimentIDs: base.ExperimentIDs, FilterRaw: "", OrderByRaw: base.OrderByRaw, ViewType: base.ViewType},
		{ExperimentIDs: base.ExperimentIDs, FilterRaw: base.FilterRaw, OrderByRaw: nil, ViewType: base.ViewType},
		{ExperimentIDs: base.ExperimentIDs, FilterRaw: base.FilterRaw, OrderByRaw: base.OrderByRaw, ViewType: model.ViewAll},
	}
	for i, v := range variants {
		assert.NotEqual(t, base.Fingerprint(), v.Fingerprint(), "variant %d", i)
	}

	// Page size is not structural.
	bigger := base
	bigger.MaxResults = 500
	assert.Equal(t, base.Fingerprint(), bigger.Fingerprint())
}

func TestPaginate(t *testing.T) {
	items := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	fp := uint64(7)

	page, tok, err := store.Paginate(items, fp, "", 4)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, page)
	require.NotEmpty(t, tok)

	page, tok, err = store.Paginate(items, fp, tok, 4)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 5, 6, 7}, page)

	page, tok, err = store.Paginate(items, fp, tok, 4)
	require.NoError(t, err)
	assert.Equal(t, []int{8, 9}, page)
	assert.Empty(t, tok, "final page carries no token")

	// Page size equal to the total returns a null token.
	page, tok, err = store.Paginate(items, fp, "", 10)
	require.NoError(t, err)
	assert.Len(t, page, 10)
	assert.Empty(t, tok)
}

func TestPaginate_OmittedMaxResultsUsesDefault(t *testing.T) {
	items := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	fp := uint64(42)

	// max_results unset pages at the default size, never an empty page
	// with a stuck token.
	page, tok, err := store.Paginate(items, fp, "", 0)
	require.NoError(t, err)
	assert.Equal(t, items, page)
	assert.Empty(t, tok)

	big := make([]int, store.DefaultMaxResults+5)
	for i := range big {
		big[i] = i
	}
	page, tok, err = store.Paginate(big, fp, "", 0)
	require.NoError(t, err)
	require.Len(t, page, store.DefaultMaxResults)
	require.NotEmpty(t, tok)

	page, tok, err = store.Paginate(big, fp, tok, 0)
	require.NoError(t, err)
	assert.Len(t, page, 5)
	assert.Empty(t, tok)
}
