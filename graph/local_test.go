package graph_test

import (
	"testing"

	"github.com/axiomkit/knowstore/errors"
	"github.com/axiomkit/knowstore/graph"
	"github.com/axiomkit/knowstore/internal/mylog"
	"github.com/axiomkit/knowstore/internal/mytesting"
	"github.com/stretchr/testify/suite"
)

type LocalStoreTestSuite struct {
	mytesting.Suite

	store *graph.LocalStore
}

func (s *LocalStoreTestSuite) SetupTest() {
	s.Suite.SetupTest()

	var err error
	s.store, err = graph.NewLocalStore("", mylog.NewLogger("error", "default"))
	s.Require().NoError(err)
}

func (s *LocalStoreTestSuite) TestNodeRoundTrip() {
	id, err := s.store.CreateNode(s, graph.Node{
		Type: "User",
		Properties: map[string]any{
			"name": "jane",
			"age":  34,
		},
	})
	s.Require().NoError(err)
	s.Require().NotEmpty(id)

	node, err := s.store.GetNode(s, id)
	s.Require().NoError(err)
	s.Require().NotNil(node)
	s.Equal("User", node.Type)
	s.Equal("jane", node.Properties["name"])
	s.Equal(34, node.Properties["age"])
}

func (s *LocalStoreTestSuite) TestGetAbsentNode() {
	node, err := s.store.GetNode(s, "missing")
	s.Require().NoError(err)
	s.Nil(node)
}

func (s *LocalStoreTestSuite) TestCreateNodeUpsertMerges() {
	id, err := s.store.CreateNode(s, graph.Node{
		ID:         "n1",
		Type:       "User",
		Properties: map[string]any{"name": "jane", "city": "seoul"},
	})
	s.Require().NoError(err)
	s.Equal("n1", id)

	_, err = s.store.CreateNode(s, graph.Node{
		ID:         "n1",
		Type:       "User",
		Properties: map[string]any{"city": "busan", "team": "infra"},
	})
	s.Require().NoError(err)

	node, err := s.store.GetNode(s, "n1")
	s.Require().NoError(err)
	s.Equal("jane", node.Properties["name"], "untouched keys keep their prior value")
	s.Equal("busan", node.Properties["city"], "incoming keys override")
	s.Equal("infra", node.Properties["team"])
}

func (s *LocalStoreTestSuite) TestUpdateNodeMerges() {
	_, err := s.store.CreateNode(s, graph.Node{
		ID:         "n1",
		Type:       "Doc",
		Properties: map[string]any{"title": "spec", "rev": 1},
	})
	s.Require().NoError(err)

	ok, err := s.store.UpdateNode(s, "n1", map[string]any{"rev": 2})
	s.Require().NoError(err)
	s.True(ok)

	node, err := s.store.GetNode(s, "n1")
	s.Require().NoError(err)
	s.Equal("spec", node.Properties["title"])
	s.Equal(2, node.Properties["rev"])

	ok, err = s.store.UpdateNode(s, "missing", map[string]any{"x": 1})
	s.Require().NoError(err)
	s.False(ok)
}

func (s *LocalStoreTestSuite) TestReturnedPropertiesAreDetached() {
	id, err := s.store.CreateNode(s, graph.Node{
		Type:       "Doc",
		Properties: map[string]any{"title": "draft"},
	})
	s.Require().NoError(err)

	node, err := s.store.GetNode(s, id)
	s.Require().NoError(err)
	node.Properties["title"] = "changed"

	again, err := s.store.GetNode(s, id)
	s.Require().NoError(err)
	s.Equal("draft", again.Properties["title"], "mutating a returned map must not touch store state")

	other, err := s.store.CreateNode(s, graph.Node{Type: "Doc"})
	s.Require().NoError(err)
	_, err = s.store.CreateEdge(s, graph.Edge{
		SourceID:   id,
		TargetID:   other,
		Type:       "LINKS",
		Properties: map[string]any{"weight": 1},
	})
	s.Require().NoError(err)

	edges, err := s.store.GetEdges(s, id, graph.DirectionOut, "")
	s.Require().NoError(err)
	s.Require().Len(edges, 1)
	edges[0].Properties["weight"] = 9

	edges, err = s.store.GetEdges(s, id, graph.DirectionOut, "")
	s.Require().NoError(err)
	s.Equal(1, edges[0].Properties["weight"])
}

func (s *LocalStoreTestSuite) TestOwnershipEdgeAndCascade() {
	_, err := s.store.CreateNode(s, graph.Node{ID: "A", Type: "User"})
	s.Require().NoError(err)
	_, err = s.store.CreateNode(s, graph.Node{ID: "B", Type: "Doc"})
	s.Require().NoError(err)

	_, err = s.store.CreateEdge(s, graph.Edge{SourceID: "A", TargetID: "B", Type: "OWNS"})
	s.Require().NoError(err)

	edges, err := s.store.GetEdges(s, "A", graph.DirectionOut, "")
	s.Require().NoError(err)
	s.Require().Len(edges, 1)
	s.Equal("OWNS", edges[0].Type)
	s.Equal("B", edges[0].TargetID)

	ok, err := s.store.DeleteNode(s, "A")
	s.Require().NoError(err)
	s.True(ok)

	edges, err = s.store.GetEdges(s, "B", graph.DirectionBoth, "")
	s.Require().NoError(err)
	s.Empty(edges, "deleting a node removes every incident edge")
}

func (s *LocalStoreTestSuite) TestCreateEdgeRequiresEndpoints() {
	_, err := s.store.CreateNode(s, graph.Node{ID: "A", Type: "User"})
	s.Require().NoError(err)

	_, err = s.store.CreateEdge(s, graph.Edge{SourceID: "A", TargetID: "ghost", Type: "OWNS"})
	s.ErrorIs(err, errors.ErrInvalidParams)

	_, err = s.store.CreateEdge(s, graph.Edge{SourceID: "ghost", TargetID: "A", Type: "OWNS"})
	s.ErrorIs(err, errors.ErrInvalidParams)
}

func (s *LocalStoreTestSuite) TestGetEdgesByDirectionAndType() {
	for _, id := range []string{"A", "B", "C"} {
		_, err := s.store.CreateNode(s, graph.Node{ID: id, Type: "Node"})
		s.Require().NoError(err)
	}
	_, err := s.store.CreateEdge(s, graph.Edge{ID: "e1", SourceID: "A", TargetID: "B", Type: "OWNS"})
	s.Require().NoError(err)
	_, err = s.store.CreateEdge(s, graph.Edge{ID: "e2", SourceID: "B", TargetID: "C", Type: "LIKES"})
	s.Require().NoError(err)

	out, err := s.store.GetEdges(s, "B", graph.DirectionOut, "")
	s.Require().NoError(err)
	s.Len(out, 1)
	s.Equal("e2", out[0].ID)

	in, err := s.store.GetEdges(s, "B", graph.DirectionIn, "")
	s.Require().NoError(err)
	s.Len(in, 1)
	s.Equal("e1", in[0].ID)

	both, err := s.store.GetEdges(s, "B", graph.DirectionBoth, "")
	s.Require().NoError(err)
	s.Len(both, 2)

	owns, err := s.store.GetEdges(s, "B", graph.DirectionBoth, "OWNS")
	s.Require().NoError(err)
	s.Len(owns, 1)
	s.Equal("e1", owns[0].ID)
}

func (s *LocalStoreTestSuite) TestDeleteEdge() {
	_, err := s.store.CreateNode(s, graph.Node{ID: "A", Type: "Node"})
	s.Require().NoError(err)
	_, err = s.store.CreateNode(s, graph.Node{ID: "B", Type: "Node"})
	s.Require().NoError(err)
	edgeID, err := s.store.CreateEdge(s, graph.Edge{SourceID: "A", TargetID: "B", Type: "OWNS"})
	s.Require().NoError(err)

	ok, err := s.store.DeleteEdge(s, edgeID)
	s.Require().NoError(err)
	s.True(ok)

	ok, err = s.store.DeleteEdge(s, edgeID)
	s.Require().NoError(err)
	s.False(ok)
}

func (s *LocalStoreTestSuite) TestFindPath() {
	// A -> B -> C -> D, plus a cycle D -> A.
	for _, id := range []string{"A", "B", "C", "D"} {
		_, err := s.store.CreateNode(s, graph.Node{ID: id, Type: "Node"})
		s.Require().NoError(err)
	}
	for _, pair := range [][2]string{{"A", "B"}, {"B", "C"}, {"C", "D"}, {"D", "A"}} {
		_, err := s.store.CreateEdge(s, graph.Edge{SourceID: pair[0], TargetID: pair[1], Type: "NEXT"})
		s.Require().NoError(err)
	}

	path, err := s.store.FindPath(s, "A", "D", 5)
	s.Require().NoError(err)
	s.Require().Len(path, 4)
	s.Equal("A", path[0].ID)
	s.Equal("B", path[1].ID)
	s.Equal("C", path[2].ID)
	s.Equal("D", path[3].ID)

	// Too shallow for the only route.
	path, err = s.store.FindPath(s, "A", "D", 2)
	s.Require().NoError(err)
	s.Nil(path)

	path, err = s.store.FindPath(s, "A", "A", 3)
	s.Require().NoError(err)
	s.Require().Len(path, 1)
	s.Equal("A", path[0].ID)

	path, err = s.store.FindPath(s, "A", "missing", 3)
	s.Require().NoError(err)
	s.Nil(path)
}

func (s *LocalStoreTestSuite) TestGetNeighbors() {
	// A - B - C in a line; D isolated.
	for _, id := range []string{"A", "B", "C", "D"} {
		_, err := s.store.CreateNode(s, graph.Node{ID: id, Type: "Node"})
		s.Require().NoError(err)
	}
	_, err := s.store.CreateEdge(s, graph.Edge{SourceID: "A", TargetID: "B", Type: "KNOWS"})
	s.Require().NoError(err)
	_, err = s.store.CreateEdge(s, graph.Edge{SourceID: "C", TargetID: "B", Type: "KNOWS"})
	s.Require().NoError(err)

	neighbors, err := s.store.GetNeighbors(s, "A", 1, nil)
	s.Require().NoError(err)
	s.Require().Len(neighbors, 1)
	s.Equal("B", neighbors[0].ID)

	// Depth two reaches C through the incoming edge direction too.
	neighbors, err = s.store.GetNeighbors(s, "A", 2, nil)
	s.Require().NoError(err)
	s.Require().Len(neighbors, 2)
	s.Equal("B", neighbors[0].ID)
	s.Equal("C", neighbors[1].ID)

	neighbors, err = s.store.GetNeighbors(s, "D", 3, nil)
	s.Require().NoError(err)
	s.Empty(neighbors)

	neighbors, err = s.store.GetNeighbors(s, "A", 2, []string{"OWNS"})
	s.Require().NoError(err)
	s.Empty(neighbors, "edge type restriction applies to every hop")
}

func (s *LocalStoreTestSuite) TestPersistenceRoundTrip() {
	path := s.T().TempDir() + "/graph.json"
	logger := mylog.NewLogger("error", "default")

	store, err := graph.NewLocalStore(path, logger)
	s.Require().NoError(err)

	_, err = store.CreateNode(s, graph.Node{ID: "A", Type: "User", Properties: map[string]any{"name": "jane"}})
	s.Require().NoError(err)
	_, err = store.CreateNode(s, graph.Node{ID: "B", Type: "Doc"})
	s.Require().NoError(err)
	_, err = store.CreateEdge(s, graph.Edge{SourceID: "A", TargetID: "B", Type: "OWNS"})
	s.Require().NoError(err)
	s.Require().NoError(store.Close())

	reopened, err := graph.NewLocalStore(path, logger)
	s.Require().NoError(err)

	node, err := reopened.GetNode(s, "A")
	s.Require().NoError(err)
	s.Require().NotNil(node)
	s.Equal("User", node.Type)
	s.Equal("jane", node.Properties["name"])

	edges, err := reopened.GetEdges(s, "A", graph.DirectionOut, "")
	s.Require().NoError(err)
	s.Require().Len(edges, 1)
	s.Equal("B", edges[0].TargetID)

	stats, err := reopened.Stats(s)
	s.Require().NoError(err)
	s.Equal(int64(2), stats.NodeCount)
	s.Equal(int64(1), stats.EdgeCount)
}

func (s *LocalStoreTestSuite) TestClear() {
	_, err := s.store.CreateNode(s, graph.Node{ID: "A", Type: "Node"})
	s.Require().NoError(err)
	_, err = s.store.CreateNode(s, graph.Node{ID: "B", Type: "Node"})
	s.Require().NoError(err)
	_, err = s.store.CreateEdge(s, graph.Edge{SourceID: "A", TargetID: "B", Type: "OWNS"})
	s.Require().NoError(err)

	s.Require().NoError(s.store.Clear())

	stats, err := s.store.Stats(s)
	s.Require().NoError(err)
	s.Equal(int64(0), stats.NodeCount)
	s.Equal(int64(0), stats.EdgeCount)
}

func TestLocalStore(t *testing.T) {
	suite.Run(t, new(LocalStoreTestSuite))
}
