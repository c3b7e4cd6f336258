package vector_test

import (
	"testing"

	"github.com/axiomkit/knowstore/errors"
	"github.com/axiomkit/knowstore/internal/mylog"
	"github.com/axiomkit/knowstore/internal/mytesting"
	"github.com/axiomkit/knowstore/vector"
	"github.com/stretchr/testify/suite"
)

type LocalStoreTestSuite struct {
	mytesting.Suite

	store *vector.LocalStore
}

func (s *LocalStoreTestSuite) SetupTest() {
	s.Suite.SetupTest()

	var err error
	s.store, err = vector.NewLocalStore("", mylog.NewLogger("error", "default"))
	s.Require().NoError(err)
}

func (s *LocalStoreTestSuite) TestQueryRanking() {
	s.Require().NoError(s.store.CreateIndex(s, "docs", 3, vector.MetricCosine))

	count, err := s.store.PutVectors(s, "docs", []vector.Record{
		{Key: "a", Vector: []float32{1, 0, 0}},
		{Key: "b", Vector: []float32{0, 1, 0}},
		{Key: "c", Vector: []float32{0.9, 0.1, 0}},
	})
	s.Require().NoError(err)
	s.Require().Equal(3, count)

	results, err := s.store.QueryVectors(s, "docs", []float32{1, 0, 0}, 2, nil)
	s.Require().NoError(err)
	s.Require().Len(results, 2)

	s.Equal("a", results[0].Key)
	s.Equal("c", results[1].Key)
	s.InDelta(1.0, results[0].Score, 1e-6)
	s.InDelta(0.994, results[1].Score, 1e-3)
}

func (s *LocalStoreTestSuite) TestSelfQueryScoresOne() {
	s.Require().NoError(s.store.CreateIndex(s, "docs", 4, vector.MetricCosine))

	v := []float32{0.3, -1.2, 4.5, 0.01}
	_, err := s.store.PutVectors(s, "docs", []vector.Record{{Key: "self", Vector: v}})
	s.Require().NoError(err)

	results, err := s.store.QueryVectors(s, "docs", v, 1, nil)
	s.Require().NoError(err)
	s.Require().Len(results, 1)
	s.Equal("self", results[0].Key)
	s.InDelta(1.0, results[0].Score, 1e-6)
}

func (s *LocalStoreTestSuite) TestDimensionMismatchSkipped() {
	s.Require().NoError(s.store.CreateIndex(s, "docs", 3, vector.MetricCosine))

	count, err := s.store.PutVectors(s, "docs", []vector.Record{
		{Key: "ok", Vector: []float32{1, 2, 3}},
		{Key: "short", Vector: []float32{1, 2}},
		{Key: "long", Vector: []float32{1, 2, 3, 4}},
	})
	s.Require().NoError(err)
	s.Equal(1, count, "mismatched vectors are skipped, not fatal")

	record, err := s.store.GetVector(s, "docs", "short")
	s.Require().NoError(err)
	s.Nil(record)
}

func (s *LocalStoreTestSuite) TestMetadataFilter() {
	s.Require().NoError(s.store.CreateIndex(s, "docs", 2, vector.MetricCosine))

	_, err := s.store.PutVectors(s, "docs", []vector.Record{
		{Key: "en-1", Vector: []float32{1, 0}, Metadata: map[string]any{"lang": "en", "tier": "gold"}},
		{Key: "ko-1", Vector: []float32{1, 0}, Metadata: map[string]any{"lang": "ko", "tier": "gold"}},
		{Key: "en-2", Vector: []float32{0, 1}, Metadata: map[string]any{"lang": "en"}},
	})
	s.Require().NoError(err)

	results, err := s.store.QueryVectors(s, "docs", []float32{1, 0}, 10, map[string]any{"lang": "en"})
	s.Require().NoError(err)
	s.Require().Len(results, 2)
	for _, result := range results {
		s.Equal("en", result.Metadata["lang"])
	}

	// Conjunction over several keys.
	results, err = s.store.QueryVectors(s, "docs", []float32{1, 0}, 10, map[string]any{"lang": "en", "tier": "gold"})
	s.Require().NoError(err)
	s.Require().Len(results, 1)
	s.Equal("en-1", results[0].Key)

	results, err = s.store.QueryVectors(s, "docs", []float32{1, 0}, 10, map[string]any{"lang": "jp"})
	s.Require().NoError(err)
	s.Empty(results)
}

func (s *LocalStoreTestSuite) TestReturnedMetadataIsDetached() {
	s.Require().NoError(s.store.CreateIndex(s, "docs", 3, vector.MetricCosine))
	_, err := s.store.PutVectors(s, "docs", []vector.Record{
		{Key: "a", Vector: []float32{1, 0, 0}, Metadata: map[string]any{"lang": "go"}},
	})
	s.Require().NoError(err)

	got, err := s.store.GetVector(s, "docs", "a")
	s.Require().NoError(err)
	got.Metadata["lang"] = "changed"

	results, err := s.store.QueryVectors(s, "docs", []float32{1, 0, 0}, 1, nil)
	s.Require().NoError(err)
	s.Require().Len(results, 1)
	s.Equal("go", results[0].Metadata["lang"], "mutating a returned map must not touch store state")
	results[0].Metadata["lang"] = "changed"

	again, err := s.store.GetVector(s, "docs", "a")
	s.Require().NoError(err)
	s.Equal("go", again.Metadata["lang"])
}

func (s *LocalStoreTestSuite) TestZeroNormQueryYieldsEmpty() {
	s.Require().NoError(s.store.CreateIndex(s, "docs", 3, vector.MetricCosine))

	_, err := s.store.PutVectors(s, "docs", []vector.Record{
		{Key: "a", Vector: []float32{1, 0, 0}},
	})
	s.Require().NoError(err)

	results, err := s.store.QueryVectors(s, "docs", []float32{0, 0, 0}, 5, nil)
	s.Require().NoError(err)
	s.Empty(results)
}

func (s *LocalStoreTestSuite) TestZeroNormCandidateExcluded() {
	s.Require().NoError(s.store.CreateIndex(s, "docs", 3, vector.MetricCosine))

	_, err := s.store.PutVectors(s, "docs", []vector.Record{
		{Key: "zero", Vector: []float32{0, 0, 0}},
		{Key: "unit", Vector: []float32{0, 0, 1}},
	})
	s.Require().NoError(err)

	results, err := s.store.QueryVectors(s, "docs", []float32{0, 0, 1}, 5, nil)
	s.Require().NoError(err)
	s.Require().Len(results, 1)
	s.Equal("unit", results[0].Key)
}

func (s *LocalStoreTestSuite) TestStableTieBreakByInsertionOrder() {
	s.Require().NoError(s.store.CreateIndex(s, "docs", 2, vector.MetricCosine))

	// Same direction, so identical cosine scores.
	_, err := s.store.PutVectors(s, "docs", []vector.Record{
		{Key: "first", Vector: []float32{1, 1}},
		{Key: "second", Vector: []float32{2, 2}},
		{Key: "third", Vector: []float32{3, 3}},
	})
	s.Require().NoError(err)

	results, err := s.store.QueryVectors(s, "docs", []float32{1, 1}, 3, nil)
	s.Require().NoError(err)
	s.Require().Len(results, 3)
	s.Equal("first", results[0].Key)
	s.Equal("second", results[1].Key)
	s.Equal("third", results[2].Key)
}

func (s *LocalStoreTestSuite) TestUpsertOverwritesByKey() {
	s.Require().NoError(s.store.CreateIndex(s, "docs", 2, vector.MetricCosine))

	_, err := s.store.PutVectors(s, "docs", []vector.Record{
		{Key: "k", Vector: []float32{1, 0}, Metadata: map[string]any{"rev": 1}},
	})
	s.Require().NoError(err)

	_, err = s.store.PutVectors(s, "docs", []vector.Record{
		{Key: "k", Vector: []float32{0, 1}, Metadata: map[string]any{"rev": 2}},
	})
	s.Require().NoError(err)

	record, err := s.store.GetVector(s, "docs", "k")
	s.Require().NoError(err)
	s.Require().NotNil(record)
	s.Equal([]float32{0, 1}, record.Vector)
	s.Equal(2, record.Metadata["rev"])

	stats, err := s.store.Stats(s, "docs")
	s.Require().NoError(err)
	s.Equal(1, stats.VectorCount)
}

func (s *LocalStoreTestSuite) TestDeleteVectors() {
	s.Require().NoError(s.store.CreateIndex(s, "docs", 2, vector.MetricCosine))

	_, err := s.store.PutVectors(s, "docs", []vector.Record{
		{Key: "a", Vector: []float32{1, 0}},
		{Key: "b", Vector: []float32{0, 1}},
	})
	s.Require().NoError(err)

	removed, err := s.store.DeleteVectors(s, "docs", []string{"a", "missing"})
	s.Require().NoError(err)
	s.Equal(1, removed)

	record, err := s.store.GetVector(s, "docs", "a")
	s.Require().NoError(err)
	s.Nil(record)

	results, err := s.store.QueryVectors(s, "docs", []float32{1, 0}, 10, nil)
	s.Require().NoError(err)
	for _, result := range results {
		s.NotEqual("a", result.Key)
	}
}

func (s *LocalStoreTestSuite) TestUnknownIndexIsNotFound() {
	_, err := s.store.PutVectors(s, "nope", []vector.Record{{Key: "a", Vector: []float32{1}}})
	s.ErrorIs(err, errors.ErrNotFound)

	_, err = s.store.QueryVectors(s, "nope", []float32{1}, 1, nil)
	s.ErrorIs(err, errors.ErrNotFound)

	_, err = s.store.GetVector(s, "nope", "a")
	s.ErrorIs(err, errors.ErrNotFound)

	err = s.store.DeleteIndex(s, "nope")
	s.ErrorIs(err, errors.ErrNotFound)
}

func (s *LocalStoreTestSuite) TestCreateIndexValidation() {
	err := s.store.CreateIndex(s, "", 3, vector.MetricCosine)
	s.ErrorIs(err, errors.ErrInvalidParams)

	err = s.store.CreateIndex(s, "docs", 0, vector.MetricCosine)
	s.ErrorIs(err, errors.ErrInvalidParams)

	// Duplicate creation is idempotent, not an error.
	s.Require().NoError(s.store.CreateIndex(s, "docs", 3, vector.MetricCosine))
	s.Require().NoError(s.store.CreateIndex(s, "docs", 3, vector.MetricCosine))
}

func (s *LocalStoreTestSuite) TestPersistenceRoundTrip() {
	dir := s.T().TempDir()
	logger := mylog.NewLogger("error", "default")

	store, err := vector.NewLocalStore(dir, logger)
	s.Require().NoError(err)

	s.Require().NoError(store.CreateIndex(s, "docs", 3, vector.MetricCosine))
	_, err = store.PutVectors(s, "docs", []vector.Record{
		{Key: "a", Vector: []float32{1, 0, 0}, Metadata: map[string]any{"lang": "en"}, Namespace: "prod"},
	})
	s.Require().NoError(err)
	s.Require().NoError(store.Close())

	reopened, err := vector.NewLocalStore(dir, logger)
	s.Require().NoError(err)

	record, err := reopened.GetVector(s, "docs", "a")
	s.Require().NoError(err)
	s.Require().NotNil(record)
	s.Equal([]float32{1, 0, 0}, record.Vector)
	s.Equal("prod", record.Namespace)

	stats, err := reopened.Stats(s, "docs")
	s.Require().NoError(err)
	s.Equal(3, stats.Dimension)
	s.Equal(vector.MetricCosine, stats.Metric)
	s.Equal(1, stats.VectorCount)
}

func TestLocalStore(t *testing.T) {
	suite.Run(t, new(LocalStoreTestSuite))
}

