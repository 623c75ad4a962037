package models

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ConversionTask is the queue message. It carries only the job identifier;
// consumers re-read everything else from the record store.
type ConversionTask struct {
	DocumentID uuid.UUID `json:"documentId"`
}

func (t ConversionTask) Marshal() ([]byte, error) {
	return json.Marshal(t)
}

func UnmarshalTask(body []byte) (ConversionTask, error) {
	var task ConversionTask
	if err := json.Unmarshal(body, &task); err != nil {
		return ConversionTask{}, fmt.Errorf("decode conversion task: %w", err)
	}
	if task.DocumentID == uuid.Nil {
		return ConversionTask{}, fmt.Errorf("decode conversion task: missing documentId")
	}
	return task, nil
}
