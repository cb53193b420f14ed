package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// run drives one job end to end and releases the slot. Exactly one run is
// live at a time; dispatchLocked guarantees it.
func (m *Manager) run(job *PublishJob) {
	ok, reason := m.execute(job)
	m.finish(job, ok, reason)
}

// execute walks the pipeline: transcode, upload, publish. Each step is gated
// on the previous one and bounded by the step timeout. It returns the
// terminal outcome and, on failure, a human-readable reason for the banner.
func (m *Manager) execute(job *PublishJob) (bool, string) {
	m.setStatus(Status{Visible: true, Message: "Compressing video…"})

	ctx, cancel := context.WithTimeout(context.Background(), m.stepTimeout)
	var compressed []byte
	for ev := range m.transcoder.Transcode(ctx, job.Media) {
		switch {
		case ev.Err != nil:
			cancel()
			m.log.Warn("transcode failed", zap.String("job_id", job.ID), zap.Error(ev.Err))
			return false, "Compression failed"
		case ev.Done != nil:
			compressed = ev.Done
		default:
			m.setStatus(Status{
				Visible: true,
				Message: "Compressing video…",
				Subtext: fmt.Sprintf("t=%ds", int(ev.Elapsed.Seconds())),
				Percent: int(ev.Progress * 100),
			})
		}
	}
	cancel()
	if compressed == nil {
		return false, "No compressed data received"
	}

	m.setStatus(Status{Visible: true, Message: "Uploading video…"})
	uctx, ucancel := context.WithTimeout(context.Background(), m.stepTimeout)
	videoURL, err := m.uploader.Upload(uctx, compressed, job.MediaType)
	ucancel()
	if err != nil {
		m.log.Warn("upload failed", zap.String("job_id", job.ID), zap.Error(err))
		return false, "Upload failed"
	}

	m.setStatus(Status{Visible: true, Message: "Posting…"})
	pctx, pcancel := context.WithTimeout(context.Background(), m.stepTimeout)
	err = m.posts.CreatePost(pctx, strings.TrimSpace(job.Content), job.ImageURLs, videoURL)
	pcancel()
	if err != nil {
		m.log.Warn("post creation failed", zap.String("job_id", job.ID), zap.Error(err))
		return false, "Failed to create post"
	}

	return true, ""
}

// finish records the terminal state: banner, projection removal, persisted
// record cleanup and the completion callback. The slot passes to the next
// job once the banner dismisses. Cleanup happens regardless of outcome.
func (m *Manager) finish(job *PublishJob, ok bool, reason string) {
	m.mu.Lock()
	m.active = nil
	m.removeProjectionLocked(job.ID)
	if ok {
		m.setStatusLocked(Status{Visible: true, Message: "Posted!", Percent: 100}, successHide)
	} else {
		if reason == "" {
			reason = "Background post failed"
		}
		m.setStatusLocked(Status{Visible: true, Message: reason}, failureHide)
	}
	m.dispatchLocked()
	m.mu.Unlock()

	m.deleteBestEffort(job.ID)

	if ok {
		m.log.Info("job published", zap.String("job_id", job.ID))
	} else {
		m.log.Warn("job failed", zap.String("job_id", job.ID), zap.String("reason", reason))
	}
	if job.onDone != nil {
		job.onDone(ok)
	}
}

func (m *Manager) removeProjectionLocked(id string) {
	kept := m.pending[:0]
	for _, p := range m.pending {
		if p.ID != id {
			kept = append(kept, p)
		}
	}
	m.pending = kept
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	m.setStatusLocked(s, 0)
	m.mu.Unlock()
}

// setStatusLocked updates the banner; hideAfter > 0 schedules auto-dismiss.
// Callers hold m.mu.
func (m *Manager) setStatusLocked(s Status, hideAfter time.Duration) {
	if m.hideTimer != nil {
		m.hideTimer.Stop()
		m.hideTimer = nil
	}
	m.status = s
	if hideAfter > 0 {
		m.hideTimer = time.AfterFunc(hideAfter, func() {
			m.mu.Lock()
			m.status = Status{}
			m.hideTimer = nil
			m.dispatchLocked()
			m.mu.Unlock()
		})
	}
}
