package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-changepoint/internal/models"
)

func TestGenerateFollowsLevels(t *testing.T) {
	s := shape{N: 10, Breaks: []int{4}, Levels: []float64{1, 9}, Noise: 0, Seed: 3}
	series := s.generate()
	require.NoError(t, series.Validate())
	assert.Equal(t, []float64{1, 1, 1, 1, 9, 9, 9, 9, 9, 9}, series.Values())
}

func TestParseShape(t *testing.T) {
	s, err := parseShape(url.Values{"n": {"50"}, "breaks": {"10, 30"}, "levels": {"1,2,3"}, "seed": {"9"}})
	require.NoError(t, err)
	assert.Equal(t, 50, s.N)
	assert.Equal(t, []int{10, 30}, s.Breaks)
	assert.Equal(t, uint64(9), s.Seed)

	_, err = parseShape(url.Values{"breaks": {"10"}, "levels": {"1,2,3"}})
	assert.Error(t, err)
	_, err = parseShape(url.Values{"n": {"20"}, "breaks": {"30"}, "levels": {"1,2"}})
	assert.Error(t, err)
}

func TestSeriesEndpoints(t *testing.T) {
	srv := httptest.NewServer(newMux())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/series.csv?n=5&breaks=2&levels=0,1&noise=0")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(body), "Date,Price\n2020-01-01,0.0000\n"))

	resp2, err := http.Get(srv.URL + "/detect-request.json?n=30&breaks=15&levels=0,5")
	require.NoError(t, err)
	defer resp2.Body.Close()
	var req models.DetectRequest
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&req))
	assert.Len(t, req.Series, 30)
	assert.Equal(t, 1, req.Config.NumChangePoints)

	bad, err := http.Get(srv.URL + "/series.csv?levels=1")
	require.NoError(t, err)
	bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}
