package main

import (
	"errors"
	"io"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/campaign-orchestrator/pkg/campaign"
	"github.com/codeready-toolchain/campaign-orchestrator/pkg/fanout"
	"github.com/codeready-toolchain/campaign-orchestrator/pkg/orchestrator"
)

// submitCampaignHandler binds the request body as a campaign.Campaign and
// hands it to Orchestrator.Submit.
func submitCampaignHandler(o *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req campaign.Campaign
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		id, err := o.Submit(c.Request.Context(), &req)
		if err != nil {
			if errors.Is(err, orchestrator.ErrAlreadyRegistered) {
				c.JSON(409, gin.H{"error": err.Error()})
				return
			}
			c.JSON(422, gin.H{"error": err.Error()})
			return
		}

		c.JSON(201, gin.H{"id": id})
	}
}

// cancelCampaignHandler idempotently removes a running campaign from the
// live table, per Orchestrator.Cancel's (false, nil) no-op contract.
func cancelCampaignHandler(o *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		cancelled, err := o.Cancel(c.Request.Context(), id)
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"cancelled": cancelled})
	}
}

// subscribeEventsHandler streams the fanout's lifecycle events to one
// client as Server-Sent Events until the request context is cancelled.
func subscribeEventsHandler(f *fanout.Fanout) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ch := f.Subscribe()
		defer f.Unsubscribe(id)

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")

		c.Stream(func(w io.Writer) bool {
			select {
			case data, ok := <-ch:
				// fanout never closes a subscriber channel (see
				// fanout.Unsubscribe), but !ok is still handled
				// defensively; the sentinel is the real disconnect signal.
				if !ok || len(data) == 0 {
					return false
				}
				c.SSEvent("message", string(data))
				return true
			case <-c.Request.Context().Done():
				return false
			}
		})
	}
}
