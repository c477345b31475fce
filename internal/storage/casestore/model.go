package casestore

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/caseworks/mysteryforge/internal/model"
)

// caseModel is the row shape a finished Case is stored under:
// append-only, one row per generation run, the full artifact kept as
// a single jsonb column rather than normalized across many tables —
// a case is read back whole, never queried piecemeal (§1 non-goals:
// this pipeline owns generation, not a query surface).
type caseModel struct {
	bun.BaseModel `bun:"table:cases,alias:c"`

	ID        uuid.UUID `bun:"id,pk,type:uuid,default:uuid_generate_v4()"`
	DraftID   string    `bun:"draft_id,notnull"`
	CaseDate  string    `bun:"case_date,notnull"`
	Title     string    `bun:"title,notnull"`
	CaseData  jsonDoc   `bun:"case_data,type:jsonb,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

func (caseModel) TableName() string { return "cases" }

func (c *caseModel) BeforeInsert(ctx interface{}) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	return nil
}

// jsonDoc marshals a Case into a jsonb column, the same Value/Scan
// shape the teacher's JSONBMap uses for its own jsonb columns,
// specialized from map[string]any to the one payload type this table
// ever stores.
type jsonDoc struct {
	Case *model.Case
}

func newJSONDoc(c *model.Case) jsonDoc {
	return jsonDoc{Case: c}
}

func (j jsonDoc) Value() (driver.Value, error) {
	if j.Case == nil {
		return nil, nil
	}
	bytes, err := json.Marshal(j.Case)
	if err != nil {
		return nil, err
	}
	return string(bytes), nil
}

func (j *jsonDoc) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		if s, ok := value.(string); ok {
			bytes = []byte(s)
		} else {
			return errors.New("failed to scan jsonDoc: value is not []byte or string")
		}
	}
	if len(bytes) == 0 {
		return nil
	}
	var c model.Case
	if err := json.Unmarshal(bytes, &c); err != nil {
		return err
	}
	j.Case = &c
	return nil
}
