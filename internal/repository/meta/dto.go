package meta

import (
	"strconv"

	"github.com/pengxiaoo/caddie/internal/domain"
)

// metaRecord is the stored form of a DocumentMeta. The trailing two fields
// are derived on every write so the retention scan can filter on them
// server-side.
type metaRecord struct {
	DocID           string        `json:"doc_id"`
	Question        string        `json:"question"`
	MatchedQuestion string        `json:"matched_question,omitempty"`
	Category        string        `json:"category,omitempty"`
	Source          domain.Source `json:"source"`
	Answer          string        `json:"answer"`
	InsertTimestamp int64         `json:"insert_timestamp"`
	QueryTimestamps []int64       `json:"query_timestamps"`

	FromKnowledgeBase  string `json:"from_knowledge_base"` // "true" / "false", TAG field
	LastQueryTimestamp int64  `json:"last_query_timestamp"`
}

func newRecord(m *domain.DocumentMeta) metaRecord {
	return metaRecord{
		DocID:              m.DocID,
		Question:           m.Question,
		MatchedQuestion:    m.MatchedQuestion,
		Category:           m.Category,
		Source:             m.Source,
		Answer:             m.Answer,
		InsertTimestamp:    m.InsertTimestamp,
		QueryTimestamps:    m.QueryTimestamps,
		FromKnowledgeBase:  strconv.FormatBool(m.FromKnowledgeBase()),
		LastQueryTimestamp: m.LastQueryTimestamp(),
	}
}

func (r metaRecord) toDomain() domain.DocumentMeta {
	ts := r.QueryTimestamps
	if ts == nil {
		ts = []int64{}
	}
	return domain.DocumentMeta{
		DocID:           r.DocID,
		Question:        r.Question,
		MatchedQuestion: r.MatchedQuestion,
		Category:        r.Category,
		Source:          r.Source,
		Answer:          r.Answer,
		InsertTimestamp: r.InsertTimestamp,
		QueryTimestamps: ts,
	}
}
