// Package api exposes the daemon's replication surface over HTTP: record
// CRUD, delta queries and bulk apply, each behind the access gate for the
// request's principal.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/syncline-dev/syncline/internal/access"
	"github.com/syncline-dev/syncline/pkg/engine"
	"github.com/syncline-dev/syncline/pkg/replicate"
)

type Handler struct {
	Store   engine.Store
	Differ  *replicate.Differ
	Tracker *replicate.Tracker
	Access  *access.Registry
}

// Register installs the replication routes on the router group.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/models/:model/records", h.ListRecords)
	r.GET("/models/:model/records/:id", h.GetRecord)
	r.POST("/models/:model/records", h.CreateRecord)
	r.PUT("/models/:model/records/:id", h.UpdateRecord)
	r.DELETE("/models/:model/records/:id", h.DeleteRecord)

	r.GET("/models/:model/changes", h.Changes)
	r.GET("/models/:model/changes/head", h.HeadChanges)
	r.POST("/models/:model/apply", h.Apply)
	r.GET("/models/:model/checkpoint", h.Checkpoint)
}

// authorize runs the access gate for the request's principal. Denials
// answer 401 regardless of whether a credential was presented, so a
// missing credential is indistinguishable from an insufficient one.
func (h *Handler) authorize(c *gin.Context, model string, accessType replicate.AccessType) bool {
	principal := principalFrom(c)
	if err := h.Access.GateFor(principal).Check(model, accessType, ""); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return false
	}
	return true
}

func (h *Handler) ListRecords(c *gin.Context) {
	model := c.Param("model")
	if !h.authorize(c, model, replicate.AccessRead) {
		return
	}

	records, err := h.Store.List(model)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, records)
}

func (h *Handler) GetRecord(c *gin.Context) {
	model := c.Param("model")
	if !h.authorize(c, model, replicate.AccessRead) {
		return
	}

	record, err := h.Store.Get(model, c.Param("id"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, engine.ErrRecordNotFound) || errors.Is(err, engine.ErrModelNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *Handler) CreateRecord(c *gin.Context) {
	model := c.Param("model")
	if !h.authorize(c, model, replicate.AccessWrite) {
		return
	}

	var record map[string]any
	if err := c.ShouldBindJSON(&record); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	created, err := h.Store.Create(model, record)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, created)
}

func (h *Handler) UpdateRecord(c *gin.Context) {
	model := c.Param("model")
	if !h.authorize(c, model, replicate.AccessWrite) {
		return
	}

	var patch map[string]any
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updated, err := h.Store.Update(model, c.Param("id"), patch)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, engine.ErrRecordNotFound) || errors.Is(err, engine.ErrModelNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *Handler) DeleteRecord(c *gin.Context) {
	model := c.Param("model")
	if !h.authorize(c, model, replicate.AccessWrite) {
		return
	}

	if err := h.Store.Delete(model, c.Param("id")); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, engine.ErrRecordNotFound) || errors.Is(err, engine.ErrModelNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// Changes returns the collapsed delta since the "since" checkpoint.
func (h *Handler) Changes(c *gin.Context) {
	model := c.Param("model")
	if !h.authorize(c, model, replicate.AccessRead) {
		return
	}

	since, err := strconv.ParseInt(c.DefaultQuery("since", "0"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since checkpoint"})
		return
	}

	delta, err := h.Differ.Delta(model, since)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if delta == nil {
		delta = []replicate.Change{}
	}
	c.JSON(http.StatusOK, delta)
}

// HeadChanges returns the latest change per record id in ids.
func (h *Handler) HeadChanges(c *gin.Context) {
	model := c.Param("model")
	if !h.authorize(c, model, replicate.AccessRead) {
		return
	}

	var ids []string
	if raw := c.Query("ids"); raw != "" {
		ids = strings.Split(raw, ",")
	}

	heads, err := h.Differ.Head(model, ids)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if heads == nil {
		heads = []replicate.Change{}
	}
	c.JSON(http.StatusOK, heads)
}

// Apply writes a safe delta into the store. The write permission check
// happens before any change lands, so a denied principal leaves the store
// untouched; individual applies are idempotent so a retried batch
// converges.
func (h *Handler) Apply(c *gin.Context) {
	model := c.Param("model")
	if !h.authorize(c, model, replicate.AccessWrite) {
		return
	}

	var changes []replicate.Change
	if err := c.ShouldBindJSON(&changes); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	for i, change := range changes {
		if err := h.Store.Apply(model, change); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   err.Error(),
				"applied": i,
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"applied": len(changes)})
}

// Checkpoint reports the model's current checkpoint.
func (h *Handler) Checkpoint(c *gin.Context) {
	model := c.Param("model")
	if !h.authorize(c, model, replicate.AccessRead) {
		return
	}

	seq, err := h.Tracker.Sequencer(model)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"checkpoint": seq.Current()})
}
