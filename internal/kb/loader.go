// Package kb loads the seed golf knowledge base from CSV.
package kb

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pengxiaoo/caddie/internal/domain"
)

// LoadFile reads a knowledge-base CSV from disk. A missing file is not an
// error: the server can run with an empty knowledge base.
func LoadFile(path string) ([]domain.Answer, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open knowledge base: %w", err)
	}
	defer f.Close()

	answers, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse knowledge base %s: %w", path, err)
	}
	return answers, nil
}

// Parse reads knowledge-base rows of the form category,question,answer.
// A header row is detected by its first cell and skipped. Rows with an
// empty question or answer are skipped.
func Parse(r io.Reader) ([]domain.Answer, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 3
	cr.TrimLeadingSpace = true

	var answers []domain.Answer
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}

		category := strings.TrimSpace(rec[0])
		question := strings.TrimSpace(rec[1])
		answer := strings.TrimSpace(rec[2])

		if line == 1 && strings.EqualFold(category, "category") {
			continue
		}
		if question == "" || answer == "" {
			continue
		}

		answers = append(answers, domain.NewAnswer(category, question, domain.SourceKnowledgeBase, answer))
	}
	return answers, nil
}
