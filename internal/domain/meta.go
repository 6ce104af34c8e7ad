package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"
)

// MillisecondsPerDay is the pruning window unit.
const MillisecondsPerDay int64 = 24 * 60 * 60 * 1000

// RetentionWindowMs is how long an unqueried, non-knowledge-base document
// survives before it becomes prunable.
const RetentionWindowMs = 7 * MillisecondsPerDay

// DocID derives the stable document identifier from question text.
// A truncated content hash keeps the id deterministic without leaking the
// raw question into store keys.
func DocID(question string) string {
	sum := sha256.Sum256([]byte(question))
	return hex.EncodeToString(sum[:16])
}

// NowMs returns the current wall-clock time in milliseconds since epoch.
func NowMs() int64 {
	return time.Now().UnixMilli()
}

// DocumentMeta is the authoritative metadata record for one indexed
// question/answer pair. Exactly one record exists per doc id, mirrored by
// at most one entry in the semantic index under the same id.
type DocumentMeta struct {
	DocID           string  `json:"doc_id"`
	Question        string  `json:"question"`
	MatchedQuestion string  `json:"matched_question,omitempty"`
	Category        string  `json:"category,omitempty"`
	Source          Source  `json:"source"`
	Answer          string  `json:"answer"`
	InsertTimestamp int64   `json:"insert_timestamp"`
	QueryTimestamps []int64 `json:"query_timestamps"`
}

// MetaFromAnswer builds a fresh DocumentMeta for a newly stored answer.
func MetaFromAnswer(a Answer) DocumentMeta {
	return DocumentMeta{
		DocID:           DocID(a.Question),
		Question:        a.Question,
		MatchedQuestion: a.MatchedQuestion,
		Category:        a.Category,
		Source:          a.Source,
		Answer:          a.Answer,
		InsertTimestamp: NowMs(),
		QueryTimestamps: []int64{},
	}
}

// FromKnowledgeBase reports whether the record is permanent (prune-exempt).
func (m *DocumentMeta) FromKnowledgeBase() bool {
	return m.Source.FromKnowledgeBase()
}

// RecordQuery appends a query timestamp. Appends are serialized by the
// storage coordinator's mutation lock.
func (m *DocumentMeta) RecordQuery(ts int64) {
	m.QueryTimestamps = append(m.QueryTimestamps, ts)
}

// LastQueryTimestamp returns the most recent query timestamp, or 0 when
// the document has never been matched.
func (m *DocumentMeta) LastQueryTimestamp() int64 {
	var last int64
	for _, ts := range m.QueryTimestamps {
		if ts > last {
			last = ts
		}
	}
	return last
}

// Prunable reports whether the record is eligible for pruning at the
// given time: not from the knowledge base, older than the retention
// window, and not queried within it.
func (m *DocumentMeta) Prunable(nowMs int64) bool {
	if m.FromKnowledgeBase() {
		return false
	}
	cutoff := nowMs - RetentionWindowMs
	if m.InsertTimestamp >= cutoff {
		return false
	}
	return m.LastQueryTimestamp() < cutoff
}

// ReadableDocumentMeta is the admin/debug view of a DocumentMeta with
// human-readable times and a trailing-7-day query count.
type ReadableDocumentMeta struct {
	DocumentMeta

	InsertTime     string `json:"insert_time"`
	LastQueryTime  string `json:"last_query_time,omitempty"`
	QueryCount7Day int    `json:"query_count_7_days"`
}

// Readable derives the admin view at the given time.
func (m DocumentMeta) Readable(nowMs int64) ReadableDocumentMeta {
	r := ReadableDocumentMeta{
		DocumentMeta: m,
		InsertTime:   msToHuman(m.InsertTimestamp),
	}
	if len(m.QueryTimestamps) > 0 {
		sorted := make([]int64, len(m.QueryTimestamps))
		copy(sorted, m.QueryTimestamps)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		r.LastQueryTime = msToHuman(sorted[len(sorted)-1])
	}
	cutoff := nowMs - RetentionWindowMs
	for _, ts := range m.QueryTimestamps {
		if ts > cutoff {
			r.QueryCount7Day++
		}
	}
	return r
}

func msToHuman(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02 15:04:05")
}
