// Package queue implements the durable background publish queue: one video
// post at a time is compressed, uploaded and published, with queued jobs
// persisted so they survive a restart.
package queue

import "time"

// JobKind tags what a queued job publishes. Only video exists today; the
// model leaves room for other media kinds.
type JobKind string

const KindVideo JobKind = "video"

// PublishJob is one queued unit of background work. The raw media belongs to
// the job until it reaches a terminal state.
type PublishJob struct {
	ID        string
	Kind      JobKind
	Media     []byte
	MediaType string
	Content   string
	ImageURLs []string
	CreatedAt time.Time

	// onDone fires exactly once when the job reaches done or failed. Not
	// persisted: jobs restored after a restart carry no callback.
	onDone func(ok bool)
}

// record is the persisted form of a job.
func (j *PublishJob) record() JobRecord {
	return JobRecord{
		ID:        j.ID,
		Kind:      j.Kind,
		Content:   j.Content,
		ImageURLs: j.ImageURLs,
		CreatedAt: j.CreatedAt,
		Media:     j.Media,
		MediaType: j.MediaType,
	}
}

// JobRecord is what the store keeps, keyed by id.
type JobRecord struct {
	ID        string    `json:"id"`
	Kind      JobKind   `json:"kind"`
	Content   string    `json:"content"`
	ImageURLs []string  `json:"imageUrls,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	Media     []byte    `json:"media"`
	MediaType string    `json:"mediaType"`
}

func (r JobRecord) job() *PublishJob {
	return &PublishJob{
		ID:        r.ID,
		Kind:      r.Kind,
		Media:     r.Media,
		MediaType: r.MediaType,
		Content:   r.Content,
		ImageURLs: r.ImageURLs,
		CreatedAt: r.CreatedAt,
	}
}

// PendingPost is the read-only projection of a queued job shown in the UI's
// pending list. It exists exactly as long as the backing job does.
type PendingPost struct {
	ID        string    `json:"id"`
	Kind      JobKind   `json:"kind"`
	Content   string    `json:"content"`
	ImageURLs []string  `json:"imageUrls,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Status is the banner projection shown while a job runs: a message, an
// optional subtext (elapsed transcode time) and a percentage.
type Status struct {
	Visible bool   `json:"visible"`
	Message string `json:"message"`
	Subtext string `json:"subtext,omitempty"`
	Percent int    `json:"percent"`
}
