package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/stake-plus/govsync/src/api/middleware"
	"github.com/stake-plus/govsync/src/data"
	"github.com/stake-plus/govsync/src/gov"
	"github.com/stake-plus/govsync/src/history"
	"github.com/stake-plus/govsync/src/syncer"
)

// Syncer is the part of the sync service the API uses.
type Syncer interface {
	Snapshot() *gov.Snapshot
	Pending() *gov.Snapshot
	Status() syncer.Status
	RunSync(ctx context.Context, forceFull bool) (bool, error)
	PromotePendingSnapshot(ctx context.Context) (*gov.Snapshot, error)
}

// RunLister lists recent sync audit rows.
type RunLister interface {
	Recent(ctx context.Context, limit int) ([]data.SyncRun, error)
}

// HistoryReader reads per-epoch cuts.
type HistoryReader interface {
	Load(epoch int) (*gov.Snapshot, error)
	Epochs() ([]int, error)
}

type handlers struct {
	svc    Syncer
	hist   HistoryReader
	runs   RunLister
	logger *zap.Logger
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) status(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Status())
}

func (h *handlers) snapshot(c *gin.Context) {
	serveSnapshot(c, h.svc.Snapshot())
}

func (h *handlers) pending(c *gin.Context) {
	serveSnapshot(c, h.svc.Pending())
}

// serveSnapshot answers 304 when the client already holds the fingerprint.
func serveSnapshot(c *gin.Context, s *gov.Snapshot) {
	if s == nil {
		c.JSON(http.StatusNotFound, gin.H{"err": "no snapshot"})
		return
	}
	if s.Fingerprint != "" {
		etag := `"` + s.Fingerprint + `"`
		c.Header("ETag", etag)
		if c.GetHeader("If-None-Match") == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}
	c.JSON(http.StatusOK, s)
}

func (h *handlers) recentRuns(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 || limit > 200 {
		c.JSON(http.StatusBadRequest, gin.H{"err": "limit must be 1..200"})
		return
	}
	if h.runs == nil {
		c.JSON(http.StatusOK, gin.H{"runs": []data.SyncRun{}})
		return
	}
	runs, err := h.runs.Recent(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("list sync runs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"err": "audit log unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (h *handlers) epochs(c *gin.Context) {
	if h.hist == nil {
		c.JSON(http.StatusOK, gin.H{"epochs": []int{}})
		return
	}
	epochs, err := h.hist.Epochs()
	if err != nil {
		h.logger.Error("list history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"err": "history unavailable"})
		return
	}
	if epochs == nil {
		epochs = []int{}
	}
	c.JSON(http.StatusOK, gin.H{"epochs": epochs})
}

func (h *handlers) history(c *gin.Context) {
	epoch, err := strconv.Atoi(c.Param("epoch"))
	if err != nil || epoch < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"err": "bad epoch"})
		return
	}
	if h.hist == nil {
		c.JSON(http.StatusNotFound, gin.H{"err": "history disabled"})
		return
	}
	cut, err := h.hist.Load(epoch)
	if errors.Is(err, history.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"err": "no cut for epoch"})
		return
	}
	if err != nil {
		h.logger.Error("load history", zap.Int("epoch", epoch), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"err": "history unavailable"})
		return
	}
	serveSnapshot(c, cut)
}

// triggerSync starts a sync in the background. With wait=true it blocks and
// reports the outcome.
func (h *handlers) triggerSync(c *gin.Context) {
	full, _ := strconv.ParseBool(c.Query("full"))
	wait, _ := strconv.ParseBool(c.Query("wait"))

	if h.svc.Status().Syncing {
		c.JSON(http.StatusConflict, gin.H{"started": false})
		return
	}
	h.logger.Info("sync requested", zap.Bool("full", full), zap.String("operator", middleware.Operator(c)))

	if !wait {
		go func() {
			if _, err := h.svc.RunSync(context.Background(), full); err != nil {
				h.logger.Warn("requested sync failed", zap.Error(err))
			}
		}()
		c.JSON(http.StatusAccepted, gin.H{"started": true})
		return
	}

	started, err := h.svc.RunSync(c.Request.Context(), full)
	st := h.svc.Status()
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"started": started, "err": err.Error(), "status": st})
		return
	}
	code := http.StatusOK
	if !started {
		code = http.StatusConflict
	}
	c.JSON(code, gin.H{"started": started, "status": st})
}

func (h *handlers) promote(c *gin.Context) {
	snap, err := h.svc.PromotePendingSnapshot(c.Request.Context())
	switch {
	case errors.Is(err, syncer.ErrNoPendingSnapshot):
		c.JSON(http.StatusNotFound, gin.H{"err": err.Error()})
		return
	case errors.Is(err, syncer.ErrSyncInProgress):
		c.JSON(http.StatusConflict, gin.H{"err": err.Error()})
		return
	case snap == nil:
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	h.logger.Info("pending snapshot promoted", zap.String("operator", middleware.Operator(c)), zap.String("fingerprint", snap.Fingerprint))
	resp := gin.H{"fingerprint": snap.Fingerprint, "proposals": len(snap.Proposals), "votes": snap.VoteCount()}
	if err != nil {
		resp["warning"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}
