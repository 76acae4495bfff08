package api

import (
	"net/http"
	"runtime"

	"github.com/gin-gonic/gin"

	"example.com/backstage/services/provenance/config"
	"example.com/backstage/services/provenance/handlers"
	"example.com/backstage/services/provenance/internal/auth"
	"example.com/backstage/services/provenance/internal/metrics"
)

// BatchIDsResponse lists batch ids
type BatchIDsResponse struct {
	BatchIDs []string `json:"batch_ids"`
	Count    int      `json:"count"`
}

// InfoResponse describes the ledger
type InfoResponse struct {
	Name         string `json:"name"`
	Version      string `json:"version"`
	TotalBatches int64  `json:"total_batches"`
	TotalEvents  int64  `json:"total_events"`
}

// createBatch registers a batch created by the calling principal
func (s *Server) createBatch(c *gin.Context) {
	var cmd handlers.CreateBatchCommand
	if err := c.ShouldBindJSON(&cmd); err != nil {
		WriteError(c, NewValidationError(err.Error()))
		return
	}

	principal, _ := auth.FromContext(c.Request.Context())
	cmd.Creator = principal.ID

	batch, err := s.services.Batches.HandleCreateBatch(c.Request.Context(), cmd)
	if err != nil {
		WriteError(c, err)
		return
	}

	c.JSON(http.StatusCreated, batch)
}

// getBatch returns a batch by id
func (s *Server) getBatch(c *gin.Context) {
	batch, err := s.services.Batches.GetBatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, batch)
}

// listBatches returns batch ids, filtered by ?creator= and ?q= when given
func (s *Server) listBatches(c *gin.Context) {
	ctx := c.Request.Context()
	creator := c.Query("creator")
	term, searching := c.GetQuery("q")

	var (
		ids []string
		err error
	)
	switch {
	case creator != "":
		ids, err = s.services.Batches.ListBatchIDsByCreator(ctx, creator)
	case searching:
		ids, err = s.services.Batches.SearchByProductName(ctx, term)
	default:
		ids, err = s.services.Batches.ListBatchIDs(ctx)
	}
	if err != nil {
		WriteError(c, err)
		return
	}

	if creator != "" && searching {
		matching, err := s.services.Batches.SearchByProductName(ctx, term)
		if err != nil {
			WriteError(c, err)
			return
		}
		ids = intersect(ids, matching)
	}

	c.JSON(http.StatusOK, BatchIDsResponse{BatchIDs: ids, Count: len(ids)})
}

// intersect keeps the ids of a that are also in b, in the order of a
func intersect(a, b []string) []string {
	keep := make(map[string]struct{}, len(b))
	for _, id := range b {
		keep[id] = struct{}{}
	}
	out := make([]string, 0, len(a))
	for _, id := range a {
		if _, ok := keep[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// info returns ledger totals
func (s *Server) info(c *gin.Context) {
	stats, err := s.services.Batches.Stats(c.Request.Context())
	if err != nil {
		WriteError(c, err)
		return
	}

	collector := metrics.GetCollector()
	collector.SetGauge(metrics.GaugeBatches, float64(stats.Batches))
	collector.SetGauge(metrics.GaugeEvents, float64(stats.Events))

	c.JSON(http.StatusOK, InfoResponse{
		Name:         "provenance-ledger",
		Version:      config.Version,
		TotalBatches: stats.Batches,
		TotalEvents:  stats.Events,
	})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) metrics(c *gin.Context) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	c.JSON(http.StatusOK, gin.H{
		"metrics": metrics.GetCollector().Snapshot(),
		"runtime": gin.H{
			"goroutines":   runtime.NumGoroutine(),
			"alloc_bytes":  memStats.Alloc,
			"sys_bytes":    memStats.Sys,
			"heap_objects": memStats.HeapObjects,
			"gc_cycles":    memStats.NumGC,
		},
	})
}
